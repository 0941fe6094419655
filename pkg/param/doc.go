/*
Package param provides the public parameter registry: named, typed values that
owning subsystems expose to any consumer in the process, with change
notification fan-out and write requests routed back to the owner.

A parameter is a name, a type tag, an optional owner loop, and a reference to
the owner's value. The registry never copies or locks that value; it only moves
the bytes it is handed at notify time, as a snapshot copy into the event bus.

# Architecture

	  owner loop                      registry                   receiver loops
	┌────────────┐   Create      ┌────────────────────┐
	│            │──────────────▶│ slot table (N=50)  │
	│ write      │               │ name → slot index  │   Subscribe
	│ handler    │               │ subscriber sets    │◀──────────────┐
	│            │ PostNewState* │ message ids 1000.. │               │
	│            │──────────────▶│                    │── Post ──────▶│ handler
	│            │               └────────────────────┘   (per       │
	│            │◀──────────── PostWrite* ───────────────subscriber)─┘
	└────────────┘         (write id, straight to owner)

Every parameter gets two message ids from a counter owned by the registry:
one for new-state notifications and one for write requests. Ids start at
FirstMessageID and are never reused while the registry lives. Id
SubscriptionNoticeID (999) is reserved for subscription notices; ids below it
are free for application use (the scheduler, for example).

# Handles

Create returns a Handle: a slot index plus the slot's generation. Delete
bumps the generation, so a handle kept past deletion fails with
ErrStaleHandle even after the slot is reused by another parameter.

	h, err := reg.CreateFloat("battery.voltage", nil, nil, &voltage)
	if err != nil {
		return err
	}
	_ = reg.SetUnit(h, types.UnitVolt)

Create is lookup-or-create: a second Create with a live name returns the
existing handle unchanged. Once Capacity parameters are live, Create fails
with ErrRegistryFull and leaves the table untouched.

# Subscriptions

	reg.Subscribe(h, display, func(ev eventbus.Event) {
		v, _ := types.DecodeFloat(ev.Data)
		show(v)
	})

Subscribing the same receiver twice replaces its entry. Execute parameters
cannot be subscribed to (ErrUnsupported).

Unsubscribe unregisters the handler but keeps the receiver in the subscriber
set. SubscriberCount is unaffected, and later notifications to that receiver
reach no handler. Owners that must know whether anyone listens install a
subscribe notifier:

	reg.SetSubscribeNotifier(h, func(c param.SubscriptionChange) {
		if c.Subscribed {
			startSampling()
		}
	})

# Notification

Notify posts the payload to every subscriber with a bounded wait
(WithPostTimeout, default 20ms). It returns nil only when every post
succeeded, ErrNoSubscribers when nobody listens, and ErrDeliveryFailure
otherwise. A failed post does not stop the multicast and nothing is rolled
back. NotifyNonBlocking does the same with non-blocking posts, for callers
that must never wait.

The typed wrappers follow two conventions:

  - PostNewStateInt32, Int64, Float, Bool and String return nil without
    delivering when there are no subscribers.
  - PostNewStateFloatArray, Int16Array and Binary return the Notify result as
    is. Check SubscriberCount before producing a large payload.

# Wire Format

Scalars are little-endian fixed width: int32 and float32 are 4 bytes, int64 is
8 bytes, bool is 1 byte. Strings are the raw bytes without a terminator. Arrays
are a uint32 element count followed by the elements (see package types).

# Formatting

FormatValue renders plain text and FormatJSON renders {"name": value}. A nil
value renders as null. PrintParameter and ListJSON build listings from them;
ListJSON skips parameters whose type carries the Hidden bit unless asked.

# Allocation

Array payloads (AllocateFloatArray, AllocateInt16Array) and ListJSON output
come from the registry's Allocator, replaceable with WithAllocator for hosts
that pool their buffers.

# Concurrency

All methods are safe for concurrent use. The table is guarded by one
RWMutex; posts happen outside the write lock.
*/
package param
