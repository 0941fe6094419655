package param

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/events"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/cuemby/pubparam/pkg/types"
)

// SubscriptionNoticeID is the message id owners receive subscription notices
// on. It is below FirstMessageID so it can never collide with a parameter id.
const SubscriptionNoticeID eventbus.MessageID = 999

// SubscriptionChange tells an owner that a receiver subscribed to or
// unsubscribed from one of its parameters
type SubscriptionChange struct {
	Parameter  string
	Receiver   string
	Subscribed bool
}

// Subscribe registers handler on receiver for the parameter's new-state id and
// records receiver in the subscriber set. Subscribing a receiver again replaces
// its entry and drops the previous registration. Execute parameters carry no
// state and are rejected.
func (r *Registry) Subscribe(h Handle, receiver *eventbus.Loop, handler eventbus.Handler) (eventbus.Registration, error) {
	if receiver == nil || handler == nil {
		return eventbus.Registration{}, fmt.Errorf("%w: receiver and handler are required", ErrInvalidArgument)
	}

	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return eventbus.Registration{}, err
	}
	name, typ, stateID := s.name, s.typ, s.stateID
	r.mu.RUnlock()

	logger := r.logger.With().Str("param", name).Str("receiver", receiver.Name()).Logger()
	if typ.Base() == types.TypeExecute {
		logger.Warn().Msg("no subscription for execute parameter")
		return eventbus.Registration{}, fmt.Errorf("%w: subscribe to execute parameter %s", ErrUnsupported, name)
	}

	reg, err := r.bus.Register(receiver, stateID, handler)
	if err != nil {
		return eventbus.Registration{}, fmt.Errorf("failed to register handler for %s: %w", name, err)
	}

	r.mu.Lock()
	s, err = r.slotLocked(h)
	if err != nil {
		r.mu.Unlock()
		_ = r.bus.Unregister(reg)
		return eventbus.Registration{}, err
	}
	prev, replaced := s.subscribers[receiver]
	s.subscribers[receiver] = reg
	owner, notify := s.owner, s.notifier != nil
	r.mu.Unlock()

	if replaced {
		if err := r.bus.Unregister(prev); err != nil && !errors.Is(err, eventbus.ErrNotRegistered) {
			logger.Warn().Err(err).Msg("failed to unregister replaced subscription")
		}
	} else {
		metrics.SubscriptionsTotal.Inc()
	}

	if notify && owner != nil {
		r.postNotice(owner, name, receiver, true)
	}
	r.publish(events.EventSubscribed, name, receiver, "")
	logger.Debug().Bool("replaced", replaced).Msg("subscribed")
	return reg, nil
}

// Unsubscribe tells the owner (best effort) and unregisters the handler. The
// receiver stays in the subscriber set: SubscriberCount is unchanged and later
// notifications to it simply reach no handler. When reg is zero the
// registration recorded by Subscribe is used.
func (r *Registry) Unsubscribe(h Handle, receiver *eventbus.Loop, reg eventbus.Registration) error {
	if receiver == nil {
		return fmt.Errorf("%w: receiver is required", ErrInvalidArgument)
	}

	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	name, owner, notify := s.name, s.owner, s.notifier != nil
	if reg.IsZero() {
		reg = s.subscribers[receiver]
	}
	r.mu.RUnlock()

	if notify && owner != nil {
		r.postNotice(owner, name, receiver, false)
	}

	if reg.IsZero() {
		return fmt.Errorf("%w: %s has no registration for %s", eventbus.ErrNotRegistered, name, receiver.Name())
	}
	if err := r.bus.Unregister(reg); err != nil {
		return fmt.Errorf("failed to unregister %s from %s: %w", receiver.Name(), name, err)
	}

	r.publish(events.EventUnsubscribed, name, receiver, "")
	r.logger.Debug().Str("param", name).Str("receiver", receiver.Name()).Msg("unsubscribed")
	return nil
}

// Notify posts a copy of data to every subscriber, waiting up to the post
// timeout for each. It returns nil only when every post succeeded. A failed
// post does not stop delivery to the remaining subscribers and nothing is
// rolled back.
func (r *Registry) Notify(h Handle, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}
	timer := metrics.NewTimer()

	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	s.changes.Add(1)
	name, stateID := s.name, s.stateID
	receivers := make([]*eventbus.Loop, 0, len(s.subscribers))
	for l := range s.subscribers {
		receivers = append(receivers, l)
	}
	r.mu.RUnlock()

	if len(receivers) == 0 {
		metrics.NotificationsTotal.WithLabelValues(metrics.ModeBlocking, metrics.ResultNoSubs).Inc()
		r.logger.Debug().Str("param", name).Msg("notify without subscribers")
		return fmt.Errorf("%w: %s", ErrNoSubscribers, name)
	}

	failed := 0
	for _, l := range receivers {
		if err := r.bus.Post(l, stateID, data, r.postTimeout); err != nil {
			failed++
		}
	}
	timer.ObserveDuration(metrics.NotifyDuration)
	return r.notifyResult(metrics.ModeBlocking, name, len(receivers), failed)
}

// NotifyNonBlocking is the Notify variant for callers that must never wait,
// such as signal or timer handlers. Each post fails immediately when the
// receiver's queue is full.
func (r *Registry) NotifyNonBlocking(h Handle, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidArgument
	}

	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	s.changes.Add(1)
	total, failed := len(s.subscribers), 0
	for l := range s.subscribers {
		if r.bus.TryPost(l, s.stateID, data) != nil {
			failed++
		}
	}
	name := s.name
	r.mu.RUnlock()

	if total == 0 {
		metrics.NotificationsTotal.WithLabelValues(metrics.ModeNonBlocking, metrics.ResultNoSubs).Inc()
		return ErrNoSubscribers
	}
	return r.notifyResult(metrics.ModeNonBlocking, name, total, failed)
}

func (r *Registry) notifyResult(mode, name string, total, failed int) error {
	switch {
	case failed == 0:
		metrics.NotificationsTotal.WithLabelValues(mode, metrics.ResultSuccess).Inc()
		return nil
	case failed < total:
		metrics.NotificationsTotal.WithLabelValues(mode, metrics.ResultPartial).Inc()
	default:
		metrics.NotificationsTotal.WithLabelValues(mode, metrics.ResultFailure).Inc()
	}
	r.logger.Warn().
		Str("param", name).
		Str("mode", mode).
		Int("subscribers", total).
		Int("failed", failed).
		Msg("notify incomplete")
	r.publish(events.EventNotifyFailed, name, nil, fmt.Sprintf("%d of %d posts failed", failed, total))
	return fmt.Errorf("%w: %s, %d of %d posts failed", ErrDeliveryFailure, name, failed, total)
}

// SetSubscribeNotifier makes the owner learn about subscribe and unsubscribe
// calls on the parameter. fn runs on the owner's loop. Passing nil removes
// the notifier. The parameter must have an owner.
func (r *Registry) SetSubscribeNotifier(h Handle, fn func(SubscriptionChange)) error {
	r.mu.Lock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if s.owner == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReadOnly, s.name)
	}
	name, owner, prev := s.name, s.owner, s.notifierReg
	s.notifier = fn
	s.notifierReg = eventbus.Registration{}
	r.mu.Unlock()

	if !prev.IsZero() {
		_ = r.bus.Unregister(prev)
	}
	if fn == nil {
		return nil
	}

	reg, err := r.bus.Register(owner, SubscriptionNoticeID, func(ev eventbus.Event) {
		change, err := DecodeSubscriptionNotice(ev.Data)
		if err != nil || change.Parameter != name || !r.Valid(h) {
			return
		}
		fn(change)
	})
	if err != nil {
		return fmt.Errorf("failed to register subscribe notifier for %s: %w", name, err)
	}

	r.mu.Lock()
	if s, err := r.slotLocked(h); err == nil {
		s.notifierReg = reg
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) postNotice(owner *eventbus.Loop, name string, receiver *eventbus.Loop, subscribed bool) {
	data := EncodeSubscriptionNotice(SubscriptionChange{
		Parameter:  name,
		Receiver:   receiver.Name(),
		Subscribed: subscribed,
	})
	if err := r.bus.Post(owner, SubscriptionNoticeID, data, r.postTimeout); err != nil {
		r.logger.Debug().Err(err).Str("param", name).Msg("subscription notice not delivered")
	}
}

// EncodeSubscriptionNotice lays out c as: flag byte, uint16 little-endian
// parameter name length, parameter name, receiver name.
func EncodeSubscriptionNotice(c SubscriptionChange) []byte {
	n := len(c.Parameter)
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	buf := make([]byte, 3+n+len(c.Receiver))
	if c.Subscribed {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:], uint16(n))
	copy(buf[3:], c.Parameter[:n])
	copy(buf[3+n:], c.Receiver)
	return buf
}

// DecodeSubscriptionNotice parses a payload received on SubscriptionNoticeID
func DecodeSubscriptionNotice(b []byte) (SubscriptionChange, error) {
	if len(b) < 3 {
		return SubscriptionChange{}, fmt.Errorf("%w: notice of %d bytes", ErrInvalidArgument, len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[1:]))
	if len(b) < 3+n {
		return SubscriptionChange{}, fmt.Errorf("%w: notice name length %d exceeds payload", ErrInvalidArgument, n)
	}
	return SubscriptionChange{
		Subscribed: b[0] == 1,
		Parameter:  string(b[3 : 3+n]),
		Receiver:   string(b[3+n:]),
	}, nil
}
