package main

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/pubparam/pkg/config"
	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/events"
	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/cuemby/pubparam/pkg/param"
	"github.com/cuemby/pubparam/pkg/scheduler"
	"github.com/cuemby/pubparam/pkg/types"
	"github.com/rs/zerolog"
)

// Timer message ids on the owner loop. Parameter ids start at
// param.FirstMessageID, so everything below param.SubscriptionNoticeID is free.
// All republish timers share tickPublish; the payload names the parameter.
const (
	tickUptime    eventbus.MessageID = 1
	tickHeartbeat eventbus.MessageID = 2
	tickList      eventbus.MessageID = 3
	tickSnapshot  eventbus.MessageID = 4
	tickPublish   eventbus.MessageID = 5
)

const (
	uptimeParam    = "sys.uptime"
	heartbeatParam = "sys.heartbeat"
)

// runtime wires the bus, registry and scheduler of one process. Writes, timer
// ticks and republishing all run on a single owner loop, so value storage is
// only touched from that loop's goroutine.
type runtime struct {
	cfg      config.Config
	bus      *eventbus.Bus
	broker   *events.Broker
	registry *param.Registry
	sched    *scheduler.Scheduler
	owner    *eventbus.Loop
	monitor  *eventbus.Loop

	started   time.Time
	uptime    int64
	heartbeat bool
	timers    []*scheduler.Event
	// republished parameters by config index
	published map[int32]param.Handle

	// JSON listings served over HTTP, refreshed on the owner loop
	visible atomic.Pointer[[]byte]
	all     atomic.Pointer[[]byte]

	logger zerolog.Logger
}

func newRuntime(cfg config.Config) (*runtime, error) {
	rt := &runtime{
		cfg:       cfg,
		bus:       eventbus.New(cfg.LoopQueueSize),
		broker:    events.NewBroker(),
		logger:    log.WithComponent("runtime"),
		published: make(map[int32]param.Handle),
	}
	rt.broker.Start()

	rt.registry = param.New(rt.bus,
		param.WithCapacity(cfg.Capacity),
		param.WithPostTimeout(cfg.PostTimeout()),
		param.WithEvents(rt.broker),
	)
	rt.sched = scheduler.New(rt.bus,
		scheduler.WithIdleTimeout(cfg.IdleTimeout()),
		scheduler.WithCommandQueueDepth(cfg.CommandQueueDepth),
		scheduler.WithPostTimeout(cfg.PostTimeout()),
		scheduler.WithEvents(rt.broker),
	)

	owner, err := rt.bus.NewLoop("params")
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.owner = owner
	metrics.UpdateComponent(metrics.ComponentEventBus, true, "")

	if err := rt.declareSystem(); err != nil {
		rt.close()
		return nil, err
	}
	for i, spec := range cfg.Parameters {
		if err := rt.declare(i, spec); err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to declare %s: %w", spec.Name, err)
		}
	}
	metrics.UpdateComponent(metrics.ComponentRegistry, true, fmt.Sprintf("%d parameters", rt.registry.Len()))
	return rt, nil
}

func (rt *runtime) declareSystem() error {
	h, err := rt.registry.CreateInt64(uptimeParam, rt.owner, nil, &rt.uptime)
	if err != nil {
		return err
	}
	err = rt.registry.SetSubscribeNotifier(h, func(c param.SubscriptionChange) {
		rt.logger.Info().
			Str("param", c.Parameter).
			Str("receiver", c.Receiver).
			Bool("subscribed", c.Subscribed).
			Msg("subscription changed")
	})
	if err != nil {
		return err
	}

	if _, err := rt.registry.Create(heartbeatParam, rt.owner, types.TypeBool|types.TypeHidden, nil, &rt.heartbeat); err != nil {
		return err
	}

	if _, err := rt.bus.Register(rt.owner, tickUptime, func(eventbus.Event) { rt.tickUptime() }); err != nil {
		return err
	}
	if _, err := rt.bus.Register(rt.owner, tickHeartbeat, func(eventbus.Event) { rt.tickHeartbeat() }); err != nil {
		return err
	}
	if _, err := rt.bus.Register(rt.owner, tickSnapshot, func(eventbus.Event) { rt.refreshSnapshot() }); err != nil {
		return err
	}
	_, err = rt.bus.Register(rt.owner, tickPublish, rt.republish)
	return err
}

func (rt *runtime) declare(i int, spec config.ParamSpec) error {
	typ, err := spec.ParamType()
	if err != nil {
		return err
	}
	value, err := spec.Value()
	if err != nil {
		return err
	}

	// Without an owner the parameter is read-only from outside
	var owner *eventbus.Loop
	var write eventbus.Handler
	if spec.Writable {
		owner = rt.owner
		write = rt.writeHandler(spec.Name, typ, value)
	}
	h, err := rt.registry.Create(spec.Name, owner, typ, write, value)
	if err != nil {
		return err
	}
	if spec.Unit != "" {
		if err := rt.registry.SetUnit(h, types.ParseUnit(spec.Unit)); err != nil {
			return err
		}
	}

	if spec.PublishInterval() > 0 {
		rt.published[int32(i)] = h
	}
	return nil
}

// writeHandler stores a write request into the parameter's storage and
// publishes the new state
func (rt *runtime) writeHandler(name string, typ types.ParamType, value any) eventbus.Handler {
	logger := log.WithParameter(name)
	return func(ev eventbus.Event) {
		h, ok := rt.registry.Get(name)
		if !ok {
			return
		}
		var err error
		switch p := value.(type) {
		case *int32:
			if *p, err = types.DecodeInt32(ev.Data); err == nil {
				err = rt.registry.PostNewStateInt32(h, *p)
			}
		case *int64:
			if *p, err = types.DecodeInt64(ev.Data); err == nil {
				err = rt.registry.PostNewStateInt64(h, *p)
			}
		case *float32:
			if *p, err = types.DecodeFloat(ev.Data); err == nil {
				err = rt.registry.PostNewStateFloat(h, *p)
			}
		case *bool:
			if *p, err = types.DecodeBool(ev.Data); err == nil {
				err = rt.registry.PostNewStateBool(h, *p)
			}
		case *string:
			*p = string(ev.Data)
			if *p != "" {
				err = rt.registry.PostNewStateString(h, *p)
			}
		default:
			logger.Info().Str("type", typ.String()).Int("bytes", len(ev.Data)).Msg("write request")
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("write not applied")
			return
		}
		logger.Debug().Msg("value written")
	}
}

// republish handles a tickPublish firing; the payload is the config index
func (rt *runtime) republish(ev eventbus.Event) {
	i, err := types.DecodeInt32(ev.Data)
	if err != nil {
		rt.logger.Warn().Err(err).Msg("malformed republish tick")
		return
	}
	h, ok := rt.published[i]
	if !ok {
		return
	}
	rt.publish(h)
}

// publish republishes the current value of h to its subscribers
func (rt *runtime) publish(h param.Handle) {
	if rt.registry.SubscriberCount(h) == 0 {
		return
	}
	value, err := rt.registry.Value(h)
	if err != nil {
		return
	}
	switch p := value.(type) {
	case *int32:
		err = rt.registry.PostNewStateInt32(h, *p)
	case *int64:
		err = rt.registry.PostNewStateInt64(h, *p)
	case *float32:
		err = rt.registry.PostNewStateFloat(h, *p)
	case *bool:
		err = rt.registry.PostNewStateBool(h, *p)
	case *string:
		if *p != "" {
			err = rt.registry.PostNewStateString(h, *p)
		}
	}
	if err != nil {
		rt.logger.Warn().Err(err).Stringer("handle", h).Msg("republish failed")
	}
}

func (rt *runtime) tickUptime() {
	h, ok := rt.registry.Get(uptimeParam)
	if !ok {
		return
	}
	rt.uptime = int64(time.Since(rt.started) / time.Second)
	if err := rt.registry.PostNewStateInt64(h, rt.uptime); err != nil {
		rt.logger.Warn().Err(err).Msg("uptime not delivered")
	}
}

func (rt *runtime) tickHeartbeat() {
	h, ok := rt.registry.Get(heartbeatParam)
	if !ok {
		return
	}
	rt.heartbeat = !rt.heartbeat
	if err := rt.registry.PostNewStateBool(h, rt.heartbeat); err != nil {
		rt.logger.Warn().Err(err).Msg("heartbeat not delivered")
	}
}

// refreshSnapshot renders both JSON listings. It must run on the owner loop,
// or before any timer is armed.
func (rt *runtime) refreshSnapshot() {
	for _, target := range []struct {
		hidden bool
		dst    *atomic.Pointer[[]byte]
	}{{false, &rt.visible}, {true, &rt.all}} {
		buf, err := rt.registry.ListJSON(target.hidden)
		if err != nil {
			rt.logger.Warn().Err(err).Msg("snapshot failed")
			continue
		}
		out := append([]byte(nil), buf...)
		rt.registry.Free(buf)
		target.dst.Store(&out)
	}
}

// Snapshot returns the latest JSON listing, nil before the first refresh
func (rt *runtime) Snapshot(includeHidden bool) []byte {
	p := rt.visible.Load()
	if includeHidden {
		p = rt.all.Load()
	}
	if p == nil {
		return nil
	}
	return *p
}

// listing returns one PrintParameter line per live parameter
func (rt *runtime) listing() []string {
	var lines []string
	for i := 0; i < rt.registry.Capacity(); i++ {
		if line, ok := rt.registry.PrintParameter(i); ok {
			lines = append(lines, line)
		}
	}
	return lines
}

// trace subscribes a monitor loop to every visible, subscribable parameter and
// logs each new state it receives
func (rt *runtime) trace() error {
	monitor, err := rt.bus.NewLoop("monitor")
	if err != nil {
		return err
	}
	rt.monitor = monitor
	logger := log.WithLoop(monitor.Name())

	for _, h := range rt.registry.Handles() {
		info, err := rt.registry.Info(h)
		if err != nil || info.Type.IsHidden() || info.Type.Base() == types.TypeExecute {
			continue
		}
		name, typ := info.Name, info.Type
		_, err = rt.registry.Subscribe(h, monitor, func(ev eventbus.Event) {
			logger.Info().
				Str("param", name).
				Str("value", decodeForLog(typ, ev.Data)).
				Msg("new state")
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// watchEvents logs registry and scheduler lifecycle events until the broker stops
func (rt *runtime) watchEvents() {
	sub := rt.broker.Subscribe()
	go func() {
		logger := log.WithComponent("events")
		for ev := range sub {
			logger.Debug().
				Str("type", string(ev.Type)).
				Str("param", ev.Parameter).
				Str("loop", ev.Loop).
				Str("message", ev.Message).
				Msg("lifecycle event")
		}
	}()
}

// start begins the scheduler and arms the built-in timers
func (rt *runtime) start(listInterval time.Duration) error {
	rt.started = time.Now()
	rt.refreshSnapshot()
	rt.sched.Start()
	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")

	add := func(id eventbus.MessageID, period time.Duration, payload []byte) error {
		for {
			ev, err := rt.sched.Add(rt.owner, id, period, true, payload)
			if errors.Is(err, scheduler.ErrCommandQueueFull) {
				// The command queue is shallow; give the worker a moment to drain it
				time.Sleep(time.Millisecond)
				continue
			}
			if err != nil {
				return err
			}
			rt.timers = append(rt.timers, ev)
			return nil
		}
	}

	if err := add(tickUptime, time.Second, nil); err != nil {
		return err
	}
	if err := add(tickHeartbeat, 500*time.Millisecond, nil); err != nil {
		return err
	}
	if err := add(tickSnapshot, time.Second, nil); err != nil {
		return err
	}
	for i, spec := range rt.cfg.Parameters {
		if spec.PublishInterval() > 0 {
			if err := add(tickPublish, spec.PublishInterval(), types.EncodeInt32(int32(i))); err != nil {
				return err
			}
		}
	}
	if listInterval > 0 {
		if _, err := rt.bus.Register(rt.owner, tickList, func(eventbus.Event) {
			for _, line := range rt.listing() {
				rt.logger.Info().Msg(line)
			}
		}); err != nil {
			return err
		}
		if err := add(tickList, listInterval, nil); err != nil {
			return err
		}
	}
	rt.logger.Info().Int("timers", len(rt.timers)).Msg("runtime started")
	return nil
}

func (rt *runtime) close() {
	rt.sched.Stop()
	metrics.UpdateComponent(metrics.ComponentScheduler, false, "stopped")
	rt.bus.Stop()
	metrics.UpdateComponent(metrics.ComponentEventBus, false, "stopped")
	rt.broker.Stop()
}

func decodeForLog(typ types.ParamType, data []byte) string {
	switch typ.Base() {
	case types.TypeInt32:
		if v, err := types.DecodeInt32(data); err == nil {
			return fmt.Sprint(v)
		}
	case types.TypeInt64:
		if v, err := types.DecodeInt64(data); err == nil {
			return fmt.Sprint(v)
		}
	case types.TypeFloat:
		if v, err := types.DecodeFloat(data); err == nil {
			return fmt.Sprint(v)
		}
	case types.TypeBool:
		if v, err := types.DecodeBool(data); err == nil {
			return fmt.Sprint(v)
		}
	case types.TypeString:
		return string(data)
	case types.TypeFloatArray:
		if a, err := types.FloatArrayFromBytes(data); err == nil {
			return fmt.Sprint(a.Values())
		}
	case types.TypeInt16Array:
		if a, err := types.Int16ArrayFromBytes(data); err == nil {
			return fmt.Sprint(a.Values())
		}
	}
	return fmt.Sprintf("%d bytes", len(data))
}
