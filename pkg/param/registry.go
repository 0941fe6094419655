package param

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/events"
	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/cuemby/pubparam/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultCapacity is the number of parameters a registry holds by default
	DefaultCapacity = 50
	// DefaultPostTimeout bounds each blocking post made by Notify and PostWrite*
	DefaultPostTimeout = 20 * time.Millisecond
	// FirstMessageID is the first message id handed out by a registry
	FirstMessageID eventbus.MessageID = 1000
)

// Bus is the delivery substrate the registry registers handlers on and posts
// through. *eventbus.Bus implements it.
type Bus interface {
	Register(target *eventbus.Loop, id eventbus.MessageID, h eventbus.Handler) (eventbus.Registration, error)
	Unregister(reg eventbus.Registration) error
	Post(target *eventbus.Loop, id eventbus.MessageID, data []byte, timeout time.Duration) error
	TryPost(target *eventbus.Loop, id eventbus.MessageID, data []byte) error
}

// Handle identifies a live parameter. The zero Handle is never valid, and a
// handle whose parameter was deleted is rejected with ErrStaleHandle even when
// its slot has been reused.
type Handle struct {
	index int32
	gen   uint32
}

// IsZero reports whether h is the zero Handle
func (h Handle) IsZero() bool { return h.gen == 0 }

// Index returns the slot index of h
func (h Handle) Index() int { return int(h.index) }

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.gen)
}

// Info is a point-in-time copy of a parameter's metadata
type Info struct {
	Handle      Handle
	Name        string
	Type        types.ParamType
	Unit        types.Unit
	Owner       string
	StateID     eventbus.MessageID
	WriteID     eventbus.MessageID
	Enabled     bool
	Subscribers int
	Changes     uint64
}

type slot struct {
	gen  uint32
	live bool

	name      string
	typ       types.ParamType
	unit      types.Unit
	owner     *eventbus.Loop
	value     any
	ctx       any
	enabled   bool
	formatter Formatter

	stateID  eventbus.MessageID
	writeID  eventbus.MessageID
	writeReg eventbus.Registration

	notifier    func(SubscriptionChange)
	notifierReg eventbus.Registration

	subscribers map[*eventbus.Loop]eventbus.Registration
	changes     atomic.Uint64
}

// Registry is a fixed capacity table of named, typed parameters. All methods
// are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	slots  []slot
	byName map[string]int32
	nextID eventbus.MessageID

	bus         Bus
	postTimeout time.Duration
	alloc       Allocator
	events      *events.Broker

	logger zerolog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithCapacity sets the maximum number of live parameters
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.slots = make([]slot, n)
		}
	}
}

// WithPostTimeout sets how long a blocking post waits for queue room
func WithPostTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.postTimeout = d
		}
	}
}

// WithAllocator replaces the allocator used for array payloads and exports
func WithAllocator(a Allocator) Option {
	return func(r *Registry) {
		if a.Alloc != nil && a.Free != nil {
			r.alloc = a
		}
	}
}

// WithEvents publishes registry lifecycle events to broker
func WithEvents(broker *events.Broker) Option {
	return func(r *Registry) {
		r.events = broker
	}
}

// New creates a registry that delivers through bus
func New(bus Bus, opts ...Option) *Registry {
	r := &Registry{
		slots:       make([]slot, DefaultCapacity),
		nextID:      FirstMessageID,
		bus:         bus,
		postTimeout: DefaultPostTimeout,
		alloc:       DefaultAllocator,
		logger:      log.WithComponent("param"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.byName = make(map[string]int32, len(r.slots))
	return r
}

// Capacity returns the maximum number of live parameters
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Len returns the number of live parameters
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Create registers a parameter, or returns the existing handle when name is
// already live. When both owner and writeHandler are given, writeHandler is
// registered on owner for the parameter's write id.
func (r *Registry) Create(name string, owner *eventbus.Loop, typ types.ParamType, writeHandler eventbus.Handler, value any) (Handle, error) {
	if name == "" {
		r.logger.Error().Str("owner", loopName(owner)).Msg("parameter name is empty")
		return Handle{}, ErrEmptyName
	}
	if !typ.Valid() {
		return Handle{}, fmt.Errorf("%w: unknown parameter type %d", ErrInvalidArgument, uint8(typ))
	}

	r.mu.Lock()
	if idx, exists := r.byName[name]; exists {
		h := Handle{index: idx, gen: r.slots[idx].gen}
		r.mu.Unlock()
		r.logger.Debug().Str("param", name).Msg("parameter exists")
		return h, nil
	}

	idx := -1
	for i := range r.slots {
		if !r.slots[i].live {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		r.logger.Warn().
			Str("param", name).
			Int("capacity", len(r.slots)).
			Msg("parameter not created, registry full")
		return Handle{}, fmt.Errorf("%w: %s not created, capacity %d", ErrRegistryFull, name, len(r.slots))
	}

	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.name = name
	s.typ = typ
	s.unit = types.UnitNone
	s.owner = owner
	s.value = value
	s.ctx = nil
	s.enabled = true
	s.formatter = nil
	s.stateID = r.nextID
	s.writeID = r.nextID + 1
	r.nextID += 2
	s.writeReg = eventbus.Registration{}
	s.notifier = nil
	s.notifierReg = eventbus.Registration{}
	s.subscribers = make(map[*eventbus.Loop]eventbus.Registration)
	s.changes.Store(0)

	r.byName[name] = int32(idx)
	h := Handle{index: int32(idx), gen: s.gen}
	writeID := s.writeID
	r.mu.Unlock()

	if writeHandler != nil && owner != nil {
		reg, err := r.bus.Register(owner, writeID, writeHandler)
		if err != nil {
			r.logger.Error().Err(err).Str("param", name).Msg("failed to register write handler")
		} else {
			r.mu.Lock()
			if r.slots[idx].gen == h.gen {
				r.slots[idx].writeReg = reg
			}
			r.mu.Unlock()
		}
	}

	metrics.ParametersTotal.Inc()
	r.publish(events.EventParameterCreated, name, owner, "")
	r.logger.Debug().
		Str("param", name).
		Str("type", typ.String()).
		Int("slot", idx).
		Msg("parameter created")
	return h, nil
}

// Delete removes the parameter from the name index and frees its slot. Bus
// registrations are left alone: the owner unsubscribes consumers and drops its
// write handler before deleting.
func (r *Registry) Delete(h Handle) error {
	r.mu.Lock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	name, owner, subs := s.name, s.owner, len(s.subscribers)
	delete(r.byName, s.name)
	s.live = false
	s.name = ""
	r.mu.Unlock()

	metrics.ParametersTotal.Dec()
	metrics.SubscriptionsTotal.Sub(float64(subs))
	r.publish(events.EventParameterDeleted, name, owner, "")
	r.logger.Debug().Str("param", name).Msg("parameter deleted")
	return nil
}

// Get looks up a live parameter by name
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byName[name]
	if !ok {
		return Handle{}, false
	}
	return Handle{index: idx, gen: r.slots[idx].gen}, true
}

// GetByIndex returns the parameter in slot i. Slot order is only stable
// between mutations.
func (r *Registry) GetByIndex(i int) (Handle, bool) {
	if i < 0 || i >= len(r.slots) {
		return Handle{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &r.slots[i]
	if !s.live {
		return Handle{}, false
	}
	return Handle{index: int32(i), gen: s.gen}, true
}

// Handles returns every live parameter in slot order
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.byName))
	for i := range r.slots {
		if r.slots[i].live {
			out = append(out, Handle{index: int32(i), gen: r.slots[i].gen})
		}
	}
	return out
}

// Valid reports whether h refers to a live parameter
func (r *Registry) Valid(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, err := r.slotLocked(h)
	return err == nil
}

// Info returns a copy of the parameter's metadata
func (r *Registry) Info(h Handle) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.slotLocked(h)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Handle:      h,
		Name:        s.name,
		Type:        s.typ,
		Unit:        s.unit,
		Owner:       loopName(s.owner),
		StateID:     s.stateID,
		WriteID:     s.writeID,
		Enabled:     s.enabled,
		Subscribers: len(s.subscribers),
		Changes:     s.changes.Load(),
	}, nil
}

func (r *Registry) Name(h Handle) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return "", err
	}
	return s.name, nil
}

func (r *Registry) Type(h Handle) (types.ParamType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return 0, err
	}
	return s.typ, nil
}

// Owner returns the loop that handles write requests, nil when read-only
func (r *Registry) Owner(h Handle) (*eventbus.Loop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return nil, err
	}
	return s.owner, nil
}

// MessageIDs returns the new-state and write message ids of the parameter
func (r *Registry) MessageIDs(h Handle) (state, write eventbus.MessageID, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return 0, 0, err
	}
	return s.stateID, s.writeID, nil
}

// Enable sets the advisory enabled flag. It has no effect on subscribers or
// bus registrations.
func (r *Registry) Enable(h Handle, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}
	s.enabled = enabled
	return nil
}

func (r *Registry) IsEnabled(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return false
	}
	return s.enabled
}

// SetValue replaces the value reference. The registry never copies or locks
// the referenced value.
func (r *Registry) SetValue(h Handle, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}
	s.value = value
	return nil
}

// Value returns the value reference, which may be nil
func (r *Registry) Value(h Handle) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return nil, err
	}
	return s.value, nil
}

// SetContext attaches opaque owner bookkeeping to the parameter
func (r *Registry) SetContext(h Handle, ctx any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}
	s.ctx = ctx
	return nil
}

func (r *Registry) Context(h Handle) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return nil, err
	}
	return s.ctx, nil
}

func (r *Registry) SetUnit(h Handle, unit types.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}
	s.unit = unit
	return nil
}

func (r *Registry) Unit(h Handle) (types.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return types.UnitNone, err
	}
	return s.unit, nil
}

// SetFormatter installs a custom text renderer for the parameter's value
func (r *Registry) SetFormatter(h Handle, f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return err
	}
	s.formatter = f
	return nil
}

func (r *Registry) Formatter(h Handle) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return nil, err
	}
	return s.formatter, nil
}

// SubscriberCount returns the number of entries in the subscriber set, or 0
// for an invalid handle
func (r *Registry) SubscriberCount(h Handle) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return 0
	}
	return len(s.subscribers)
}

// ChangeCount returns how many new-state notifications have been attempted
func (r *Registry) ChangeCount(h Handle) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, err := r.slotLocked(h)
	if err != nil {
		return 0
	}
	return s.changes.Load()
}

// slotLocked resolves h. The caller holds r.mu.
func (r *Registry) slotLocked(h Handle) (*slot, error) {
	if h.IsZero() {
		return nil, fmt.Errorf("%w: zero handle", ErrInvalidArgument)
	}
	if h.index < 0 || int(h.index) >= len(r.slots) {
		return nil, fmt.Errorf("%w: handle %s", ErrNotFound, h)
	}
	s := &r.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}

func (r *Registry) publish(typ events.EventType, name string, loop *eventbus.Loop, msg string) {
	if r.events == nil {
		return
	}
	r.events.Publish(&events.Event{
		Type:      typ,
		Parameter: name,
		Loop:      loopName(loop),
		Message:   msg,
	})
}

func loopName(l *eventbus.Loop) string {
	if l == nil {
		return ""
	}
	return l.Name()
}
