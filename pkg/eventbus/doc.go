/*
Package eventbus provides the in-process message delivery substrate used by
the parameter registry and the deadline scheduler.

A Loop is a receiving context: a bounded queue drained by one dispatch
goroutine. Handlers are registered per (loop, message id) and run on that
goroutine in registration order, so a loop's handlers never run concurrently
with each other.

# Architecture

	 producers                      Loop "display" (queue: 16)
	┌──────────┐  Post / TryPost   ┌─────────────────────────────┐
	│ registry │──────────────────▶│ [id|copy] [id|copy] ...     │
	│ scheduler│                   └──────────────┬──────────────┘
	└──────────┘                                  │ dispatch goroutine
	                                              ▼
	                               handlers[id] → h1(ev), h2(ev), ...

Post copies the payload into a pooled buffer before queueing it, so the
producer may reuse its slice as soon as Post returns. The buffer goes back to
the pool after the last handler returns: Event.Data is only valid during the
handler call.

# Posting

Two entry points exist, chosen by the caller rather than by a runtime flag:

  - Post waits up to a timeout for queue room and fails with ErrPostTimeout.
  - TryPost never waits and fails with ErrQueueFull. Steady-state use reuses
    pooled buffers, which makes it suitable for latency-critical producers.

Posting to a stopped loop fails with ErrLoopStopped.

# Bus

Bus owns the named loops of a process and counts every post in
pubparam_bus_posts_total:

	bus := eventbus.New(eventbus.DefaultQueueSize)
	defer bus.Stop()

	display, _ := bus.NewLoop("display")
	reg, _ := bus.Register(display, 1000, func(ev eventbus.Event) {
		fmt.Printf("%s got %d bytes\n", ev.Loop.Name(), len(ev.Data))
	})
	defer bus.Unregister(reg)

	_ = bus.Post(display, 1000, []byte{1, 2, 3, 4}, 20*time.Millisecond)

A handler that panics is recovered and logged; the loop keeps dispatching.
*/
package eventbus
