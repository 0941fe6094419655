package eventbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	ErrNilLoop       = errors.New("event loop is nil")
	ErrNilHandler    = errors.New("handler is nil")
	ErrLoopStopped   = errors.New("event loop stopped")
	ErrPostTimeout   = errors.New("post timed out, loop queue full")
	ErrQueueFull     = errors.New("loop queue full")
	ErrNotRegistered = errors.New("handler not registered")
)

// DefaultQueueSize is the queue depth of loops created without an explicit size
const DefaultQueueSize = 16

// MessageID tags a message posted to a loop
type MessageID int32

// Event is delivered to every handler registered for its message id. Data is
// only valid for the duration of the handler call; handlers that keep it must
// copy it.
type Event struct {
	Loop *Loop
	ID   MessageID
	Data []byte
}

// Handler processes events on the loop's dispatch goroutine
type Handler func(ev Event)

// Registration identifies one handler registration on a loop
type Registration struct {
	loop *Loop
	id   MessageID
	seq  uint64
}

// Loop returns the loop the handler is registered on
func (r Registration) Loop() *Loop { return r.loop }

// ID returns the message id the handler is registered for
func (r Registration) ID() MessageID { return r.id }

// IsZero reports whether r is the zero Registration
func (r Registration) IsZero() bool { return r.loop == nil }

type handlerEntry struct {
	seq uint64
	fn  Handler
}

type envelope struct {
	id  MessageID
	buf *[]byte
}

// Loop is a receiving context: a bounded message queue drained by one dispatch
// goroutine that calls the handlers registered for each message id in order of
// registration.
type Loop struct {
	name  string
	queue chan envelope

	mu       sync.RWMutex
	handlers map[MessageID][]handlerEntry
	nextSeq  uint64

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool

	logger zerolog.Logger
}

// NewLoop creates a loop. It accepts posts immediately but only dispatches
// once Start is called.
func NewLoop(name string, queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Loop{
		name:     name,
		queue:    make(chan envelope, queueSize),
		handlers: make(map[MessageID][]handlerEntry),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   log.WithLoop(name),
	}
}

// Name returns the loop name
func (l *Loop) Name() string { return l.name }

// Pending returns the number of queued, undispatched messages
func (l *Loop) Pending() int { return len(l.queue) }

// Start begins the dispatch goroutine
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()
		go l.run()
	})
}

// Stop stops dispatching and waits for the in-flight handler to return.
// Queued messages are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()
	if started {
		<-l.doneCh
	}
}

// Stopped reports whether Stop has been called
func (l *Loop) Stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// Register adds fn as a handler for id
func (l *Loop) Register(id MessageID, fn Handler) (Registration, error) {
	if fn == nil {
		return Registration{}, ErrNilHandler
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	l.handlers[id] = append(l.handlers[id], handlerEntry{seq: l.nextSeq, fn: fn})
	return Registration{loop: l, id: id, seq: l.nextSeq}, nil
}

// Unregister removes the handler identified by reg
func (l *Loop) Unregister(reg Registration) error {
	if reg.loop != l {
		return fmt.Errorf("%w: registration belongs to another loop", ErrNotRegistered)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.handlers[reg.id]
	for i, e := range entries {
		if e.seq != reg.seq {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(l.handlers, reg.id)
		} else {
			l.handlers[reg.id] = entries
		}
		return nil
	}
	return ErrNotRegistered
}

// HandlerCount returns the number of handlers registered for id
func (l *Loop) HandlerCount(id MessageID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers[id])
}

// Post copies data into the loop's queue, waiting up to timeout for room.
// A timeout of zero or less behaves like TryPost.
func (l *Loop) Post(id MessageID, data []byte, timeout time.Duration) error {
	if timeout <= 0 {
		return l.TryPost(id, data)
	}
	if l.Stopped() {
		return ErrLoopStopped
	}

	env := envelope{id: id, buf: getBuffer(data)}
	select {
	case l.queue <- env:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.queue <- env:
		return nil
	case <-timer.C:
		putBuffer(env.buf)
		return ErrPostTimeout
	case <-l.stopCh:
		putBuffer(env.buf)
		return ErrLoopStopped
	}
}

// TryPost enqueues a copy of data without waiting. It never blocks, and
// steady-state use reuses pooled buffers instead of allocating.
func (l *Loop) TryPost(id MessageID, data []byte) error {
	if l.Stopped() {
		return ErrLoopStopped
	}
	env := envelope{id: id, buf: getBuffer(data)}
	select {
	case l.queue <- env:
		return nil
	default:
		putBuffer(env.buf)
		return ErrQueueFull
	}
}

func (l *Loop) run() {
	defer close(l.doneCh)

	l.logger.Debug().Msg("event loop started")
	for {
		select {
		case env := <-l.queue:
			l.dispatch(env)
		case <-l.stopCh:
			l.logger.Debug().Msg("event loop stopped")
			return
		}
	}
}

func (l *Loop) dispatch(env envelope) {
	defer putBuffer(env.buf)

	l.mu.RLock()
	entries := l.handlers[env.id]
	fns := make([]Handler, len(entries))
	for i, e := range entries {
		fns[i] = e.fn
	}
	l.mu.RUnlock()

	metrics.BusDispatchedTotal.WithLabelValues(l.name).Inc()

	ev := Event{Loop: l, ID: env.id, Data: *env.buf}
	for _, fn := range fns {
		l.invoke(fn, ev)
	}
}

func (l *Loop) invoke(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Int32("id", int32(ev.ID)).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	fn(ev)
}

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64)
		return &b
	},
}

func getBuffer(data []byte) *[]byte {
	p := bufferPool.Get().(*[]byte)
	if cap(*p) < len(data) {
		*p = make([]byte, len(data))
	}
	*p = (*p)[:len(data)]
	copy(*p, data)
	return p
}

func putBuffer(p *[]byte) {
	bufferPool.Put(p)
}
