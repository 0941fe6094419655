/*
Package scheduler provides the deadline scheduler: one-shot and periodic timed
messages posted to event loops, in strict deadline order.

Any component can ask for a delayed or recurring callback by naming a target
loop and a message id. When the deadline passes, the scheduler posts the
payload to that loop through the event bus, and the handlers registered there
for the id run on the loop's own goroutine. Timers are independent of
parameter state.

# Architecture

Callers never touch the live event list. Add and Remove enqueue a command on
a small bounded channel; a single worker goroutine owns the list and applies
commands between firings:

	 caller goroutines               worker goroutine
	┌──────────────────┐          ┌────────────────────────────────────┐
	│ Add(target, id,  │  add     │ 1. drain every pending command     │
	│     period, ...) │────┐     │ 2. list empty?  wait ≤ idle (1s)   │
	│                  │    ├────▶│    earliest due? fire it, go to 1  │
	│ Remove(ev)       │────┘     │    otherwise wait until deadline   │
	└──────────────────┘ command  │    or until a command arrives      │
	                     channel  │ 3. go to 1                         │
	                     (depth 2)└───────────────┬────────────────────┘
	                                              │ Post(target, id, payload)
	                                              ▼
	                                         event bus loop

The channel holds DefaultCommandQueueDepth commands. Scheduling changes are
rare compared with firings, so a full channel is reported to the caller as
ErrCommandQueueFull instead of being buffered.

# Ordering and Cancellation

The list is kept sorted by next deadline. Events with equal deadlines fire in
the order they were added.

Pending commands are always applied before the earliest deadline is
evaluated. A Remove enqueued before the worker wakes for a deadline therefore
cancels that firing, even when both are ready at the same instant.

# Drift

A periodic event remembers its start time and how many periods have elapsed.
The next deadline is computed as

	next = start + period × repetitions

rather than by adding the period to the previous deadline, so a slow post
delays one firing but never shifts the ones after it.

# Failures

A failed post is logged and counted in pubparam_scheduler_firings_total with
result="failure". The event is re-armed or discarded exactly as if the post
had succeeded, so a missed tick does not desynchronize the timer.

# Usage

	sched := scheduler.New(bus)
	sched.Start()
	defer sched.Stop()

	// Post heartbeatID to the sampler loop every 500ms
	ev, err := sched.Add(sampler, heartbeatID, 500*time.Millisecond, true, nil)
	if err != nil {
		return err
	}
	defer sched.Remove(ev)

The payload slice is not copied by Add; the bus copies it at each firing.
Keep it unchanged until the event is removed or, for a one-shot event, has
fired.

# Testing

WithClock accepts any github.com/benbjohnson/clock Clock. Tests drive the
worker with clock.NewMock and advance time explicitly, which makes deadline
ordering and drift behavior deterministic.
*/
package scheduler
