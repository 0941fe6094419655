/*
Package events provides an in-memory lifecycle feed for the parameter registry
and the deadline scheduler.

The feed answers "what changed in the registry" (a parameter was created, a
consumer subscribed, a multicast partially failed, a timer was added) for
watchers such as the CLI or a diagnostics page. It is deliberately separate from
the event bus: parameter values and write requests never pass through here, and
a slow watcher can never delay a notification.

# Flow

	registry / scheduler
	        │ Publish (never blocks, drops when saturated)
	        ▼
	  event channel (buffer: 100)
	        │ broadcast loop
	        ▼
	  watcher channels (buffer: 50 each, full watchers are skipped)

Stop closes every watcher channel, so a watcher ranging over its Subscriber
returns on shutdown without a separate signal.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	reg := param.New(bus, param.WithEvents(broker))

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			fmt.Printf("%s %s %s\n", ev.Type, ev.Parameter, ev.Loop)
		}
	}()
*/
package events
