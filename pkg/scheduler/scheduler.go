package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/events"
	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultIdleTimeout is how long the worker waits for commands while no
	// event is scheduled
	DefaultIdleTimeout = time.Second
	// DefaultCommandQueueDepth bounds the add/remove commands waiting for the
	// worker. A full queue means a caller is flooding the scheduler.
	DefaultCommandQueueDepth = 2
	// DefaultPostTimeout bounds each firing's post
	DefaultPostTimeout = 20 * time.Millisecond
	// MinPeriod is the smallest accepted period
	MinPeriod = time.Millisecond
)

var (
	ErrInvalidPeriod    = errors.New("invalid period, must be 1ms or more")
	ErrCommandQueueFull = errors.New("scheduler command queue full")
	ErrNilTarget        = errors.New("event target is nil")
	ErrStopped          = errors.New("scheduler stopped")
)

// Poster delivers a firing to its target. *eventbus.Bus implements it.
type Poster interface {
	Post(target *eventbus.Loop, id eventbus.MessageID, data []byte, timeout time.Duration) error
}

// Event is a scheduled deadline. Once added it belongs to the scheduler's
// worker; callers only keep it to pass to Remove.
type Event struct {
	ID uuid.UUID

	target   *eventbus.Loop
	msgID    eventbus.MessageID
	payload  []byte
	period   time.Duration
	periodic bool

	// worker state
	start time.Time
	reps  int64
	next  time.Time
	seq   uint64
}

func (e *Event) Target() *eventbus.Loop        { return e.target }
func (e *Event) MessageID() eventbus.MessageID { return e.msgID }
func (e *Event) Period() time.Duration         { return e.period }
func (e *Event) Periodic() bool                { return e.periodic }

// rearm computes the next deadline from the start time so that slow firings
// never accumulate drift
func (e *Event) rearm() {
	e.reps++
	e.next = e.start.Add(e.period * time.Duration(e.reps))
}

type cmdOp int

const (
	cmdAdd cmdOp = iota
	cmdRemove
)

type command struct {
	op cmdOp
	ev *Event
}

// Scheduler fires one-shot and periodic events in deadline order by posting
// them to their target loop.
type Scheduler struct {
	poster      Poster
	clock       clock.Clock
	idleTimeout time.Duration
	postTimeout time.Duration
	broker      *events.Broker

	cmdCh     chan command
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	count     atomic.Int64

	// owned by the worker goroutine
	events  []*Event
	nextSeq uint64

	// onWait, when set, is called each time the worker blocks with the
	// duration it will wait
	onWait func(time.Duration)

	logger zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

func WithPostTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.postTimeout = d
		}
	}
}

func WithCommandQueueDepth(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.cmdCh = make(chan command, n)
		}
	}
}

// WithEvents publishes timer added and removed events to broker
func WithEvents(broker *events.Broker) Option {
	return func(s *Scheduler) {
		s.broker = broker
	}
}

// New creates a scheduler that fires through poster
func New(poster Poster, opts ...Option) *Scheduler {
	s := &Scheduler{
		poster:      poster,
		clock:       clock.New(),
		idleTimeout: DefaultIdleTimeout,
		postTimeout: DefaultPostTimeout,
		cmdCh:       make(chan command, DefaultCommandQueueDepth),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the worker loop
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
}

// Stop stops the worker and waits for it to exit. Scheduled events are
// discarded.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.doneCh
	}
}

// Len returns the number of events the worker holds
func (s *Scheduler) Len() int {
	return int(s.count.Load())
}

// Add schedules a post of payload with message id to target, first after
// period and then every period when periodic is set. payload is not copied
// until each firing; keep it alive until the event is removed or has fired.
func (s *Scheduler) Add(target *eventbus.Loop, id eventbus.MessageID, period time.Duration, periodic bool, payload []byte) (*Event, error) {
	if period < MinPeriod {
		s.logger.Error().Dur("period", period).Msg("invalid period, must be 1ms or more")
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	if target == nil {
		return nil, ErrNilTarget
	}

	ev := &Event{
		ID:       uuid.New(),
		target:   target,
		msgID:    id,
		payload:  payload,
		period:   period,
		periodic: periodic,
		start:    s.clock.Now(),
	}
	ev.rearm()

	if err := s.enqueue(command{op: cmdAdd, ev: ev}); err != nil {
		return nil, err
	}
	return ev, nil
}

// Remove cancels ev. Removing an event that already fired or was removed is a
// no-op.
func (s *Scheduler) Remove(ev *Event) error {
	if ev == nil {
		return nil
	}
	return s.enqueue(command{op: cmdRemove, ev: ev})
}

func (s *Scheduler) enqueue(cmd command) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	select {
	case s.cmdCh <- cmd:
		return nil
	default:
		s.logger.Warn().Str("event", cmd.ev.ID.String()).Msg("command queue full")
		return ErrCommandQueueFull
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	defer s.reset()

	s.logger.Info().Dur("idle_timeout", s.idleTimeout).Msg("scheduler started")
	for {
		// Commands win over firings: a remove queued before a deadline is
		// applied before that deadline is evaluated.
		s.drain()

		wait := s.idleTimeout
		if len(s.events) > 0 {
			wait = s.events[0].next.Sub(s.clock.Now())
			if wait <= 0 {
				s.fire()
				continue
			}
		}

		timer := s.clock.Timer(wait)
		if s.onWait != nil {
			s.onWait(wait)
		}
		select {
		case cmd := <-s.cmdCh:
			timer.Stop()
			s.apply(cmd)
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info().Msg("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case cmd := <-s.cmdCh:
			s.apply(cmd)
		default:
			return
		}
	}
}

func (s *Scheduler) apply(cmd command) {
	switch cmd.op {
	case cmdAdd:
		cmd.ev.seq = s.nextSeq
		s.nextSeq++
		s.events = append(s.events, cmd.ev)
		s.reorder()
		s.count.Add(1)
		metrics.ScheduledEvents.Inc()
		s.publish(events.EventTimerAdded, cmd.ev)
		s.logger.Debug().
			Str("event", cmd.ev.ID.String()).
			Str("target", cmd.ev.target.Name()).
			Dur("period", cmd.ev.period).
			Bool("periodic", cmd.ev.periodic).
			Msg("event added")
	case cmdRemove:
		if s.drop(cmd.ev) {
			s.publish(events.EventTimerRemoved, cmd.ev)
			s.logger.Debug().Str("event", cmd.ev.ID.String()).Msg("event removed")
		}
	}
}

// fire posts the earliest event and re-arms or discards it
func (s *Scheduler) fire() {
	ev := s.events[0]
	metrics.SchedulerLateness.Observe(s.clock.Now().Sub(ev.next).Seconds())

	if err := s.poster.Post(ev.target, ev.msgID, ev.payload, s.postTimeout); err != nil {
		// A missed tick must not desynchronize the timer
		metrics.SchedulerFiringsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Error().
			Err(err).
			Str("event", ev.ID.String()).
			Str("target", ev.target.Name()).
			Msg("failed posting event")
	} else {
		metrics.SchedulerFiringsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	}

	if ev.periodic {
		ev.rearm()
		s.reorder()
		return
	}
	s.drop(ev)
}

func (s *Scheduler) drop(ev *Event) bool {
	for i, e := range s.events {
		if e == ev {
			s.events = append(s.events[:i], s.events[i+1:]...)
			s.count.Add(-1)
			metrics.ScheduledEvents.Dec()
			return true
		}
	}
	return false
}

// reorder sorts events by deadline, earlier insertion first on ties
func (s *Scheduler) reorder() {
	sort.Slice(s.events, func(i, j int) bool {
		a, b := s.events[i], s.events[j]
		if a.next.Equal(b.next) {
			return a.seq < b.seq
		}
		return a.next.Before(b.next)
	})
}

func (s *Scheduler) reset() {
	metrics.ScheduledEvents.Sub(float64(len(s.events)))
	s.count.Store(0)
	s.events = nil
}

func (s *Scheduler) publish(typ events.EventType, ev *Event) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     typ,
		Loop:     ev.target.Name(),
		Metadata: map[string]string{"event": ev.ID.String(), "period": ev.period.String()},
	})
}
