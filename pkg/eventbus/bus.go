package eventbus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/rs/zerolog"
)

// Bus owns the named loops of a process and is the delivery substrate the
// registry and the scheduler post through.
type Bus struct {
	mu        sync.RWMutex
	loops     map[string]*Loop
	queueSize int
	logger    zerolog.Logger
}

// New creates a bus whose loops get queues of queueSize messages
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		loops:     make(map[string]*Loop),
		queueSize: queueSize,
		logger:    log.WithComponent("eventbus"),
	}
}

// NewLoop creates and starts a named loop
func (b *Bus) NewLoop(name string) (*Loop, error) {
	if name == "" {
		return nil, fmt.Errorf("loop name is empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.loops[name]; exists {
		return nil, fmt.Errorf("loop %q already exists", name)
	}
	l := NewLoop(name, b.queueSize)
	b.loops[name] = l
	l.Start()

	b.logger.Info().Str("loop", name).Int("queue_size", b.queueSize).Msg("event loop created")
	return l, nil
}

// Loop returns the loop with the given name
func (b *Bus) Loop(name string) (*Loop, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.loops[name]
	return l, ok
}

// Loops returns all loops sorted by name
func (b *Bus) Loops() []*Loop {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loops := make([]*Loop, 0, len(b.loops))
	for _, l := range b.loops {
		loops = append(loops, l)
	}
	sort.Slice(loops, func(i, j int) bool { return loops[i].name < loops[j].name })
	return loops
}

// Stop stops every loop created through the bus
func (b *Bus) Stop() {
	for _, l := range b.Loops() {
		l.Stop()
	}
	b.logger.Info().Msg("event bus stopped")
}

// Register adds h as a handler for id on target
func (b *Bus) Register(target *Loop, id MessageID, h Handler) (Registration, error) {
	if target == nil {
		return Registration{}, ErrNilLoop
	}
	return target.Register(id, h)
}

// Unregister removes a handler registration
func (b *Bus) Unregister(reg Registration) error {
	if reg.loop == nil {
		return ErrNilLoop
	}
	return reg.loop.Unregister(reg)
}

// Post delivers data to target, waiting up to timeout for queue room
func (b *Bus) Post(target *Loop, id MessageID, data []byte, timeout time.Duration) error {
	if target == nil {
		return ErrNilLoop
	}
	err := target.Post(id, data, timeout)
	b.record(metrics.ModeBlocking, target, id, err)
	return err
}

// TryPost delivers data to target without waiting
func (b *Bus) TryPost(target *Loop, id MessageID, data []byte) error {
	if target == nil {
		return ErrNilLoop
	}
	err := target.TryPost(id, data)
	b.record(metrics.ModeNonBlocking, target, id, err)
	return err
}

func (b *Bus) record(mode string, target *Loop, id MessageID, err error) {
	if err == nil {
		metrics.BusPostsTotal.WithLabelValues(mode, metrics.ResultSuccess).Inc()
		return
	}
	metrics.BusPostsTotal.WithLabelValues(mode, metrics.ResultFailure).Inc()
	b.logger.Error().
		Err(err).
		Str("loop", target.name).
		Int32("id", int32(id)).
		Str("mode", mode).
		Msg("post failed")
}
