package param

import (
	"fmt"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/cuemby/pubparam/pkg/types"
)

// Typed constructors. Each is Create with the matching type tag.

func (r *Registry) CreateInt32(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, value *int32) (Handle, error) {
	return r.Create(name, owner, types.TypeInt32, writeHandler, optional(value))
}

func (r *Registry) CreateInt64(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, value *int64) (Handle, error) {
	return r.Create(name, owner, types.TypeInt64, writeHandler, optional(value))
}

func (r *Registry) CreateFloat(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, value *float32) (Handle, error) {
	return r.Create(name, owner, types.TypeFloat, writeHandler, optional(value))
}

func (r *Registry) CreateBool(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, value *bool) (Handle, error) {
	return r.Create(name, owner, types.TypeBool, writeHandler, optional(value))
}

// CreateFloatArray creates a float array parameter. Its payload is usually
// produced per notification with AllocateFloatArray, so no value is bound.
func (r *Registry) CreateFloatArray(name string, owner *eventbus.Loop, writeHandler eventbus.Handler) (Handle, error) {
	return r.Create(name, owner, types.TypeFloatArray, writeHandler, nil)
}

func (r *Registry) CreateInt16Array(name string, owner *eventbus.Loop, writeHandler eventbus.Handler) (Handle, error) {
	return r.Create(name, owner, types.TypeInt16Array, writeHandler, nil)
}

// CreateString creates a string parameter rendered by formatter
func (r *Registry) CreateString(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, formatter Formatter) (Handle, error) {
	return r.createFormatted(name, owner, types.TypeString, writeHandler, formatter)
}

// CreateBinary creates a binary parameter rendered by formatter
func (r *Registry) CreateBinary(name string, owner *eventbus.Loop, writeHandler eventbus.Handler, formatter Formatter) (Handle, error) {
	return r.createFormatted(name, owner, types.TypeBinary, writeHandler, formatter)
}

// CreateExecute creates a command parameter. It has no state, only write
// requests, and cannot be subscribed to.
func (r *Registry) CreateExecute(name string, owner *eventbus.Loop, writeHandler eventbus.Handler) (Handle, error) {
	return r.Create(name, owner, types.TypeExecute, writeHandler, nil)
}

func (r *Registry) createFormatted(name string, owner *eventbus.Loop, typ types.ParamType, writeHandler eventbus.Handler, formatter Formatter) (Handle, error) {
	h, err := r.Create(name, owner, typ, writeHandler, nil)
	if err != nil {
		return Handle{}, err
	}
	if formatter != nil {
		if err := r.SetFormatter(h, formatter); err != nil {
			return Handle{}, err
		}
	}
	return h, nil
}

// optional keeps a nil pointer from becoming a non-nil interface value
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

// UnregisterWriteHandler drops the write handler registered by Create. Owners
// call it before Delete.
func (r *Registry) UnregisterWriteHandler(h Handle) error {
	r.mu.Lock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	reg := s.writeReg
	s.writeReg = eventbus.Registration{}
	r.mu.Unlock()

	if reg.IsZero() {
		return nil
	}
	return r.bus.Unregister(reg)
}

// New-state wrappers for small values: nothing to do is success, so they
// return nil without delivering when the parameter has no subscribers.

func (r *Registry) PostNewStateInt32(h Handle, v int32) error {
	return r.postNewState(h, types.EncodeInt32(v))
}

func (r *Registry) PostNewStateInt64(h Handle, v int64) error {
	return r.postNewState(h, types.EncodeInt64(v))
}

func (r *Registry) PostNewStateFloat(h Handle, v float32) error {
	return r.postNewState(h, types.EncodeFloat(v))
}

func (r *Registry) PostNewStateBool(h Handle, v bool) error {
	return r.postNewState(h, types.EncodeBool(v))
}

// PostNewStateString sends the raw bytes of s, without a terminator
func (r *Registry) PostNewStateString(h Handle, s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty string", ErrInvalidArgument)
	}
	return r.postNewState(h, []byte(s))
}

func (r *Registry) postNewState(h Handle, data []byte) error {
	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	subscribers := len(s.subscribers)
	r.mu.RUnlock()

	if subscribers == 0 {
		return nil
	}
	return r.Notify(h, data)
}

// Array and binary payloads are expensive to produce, so callers check
// SubscriberCount first. These wrappers return the Notify result unchanged,
// including ErrNoSubscribers.

func (r *Registry) PostNewStateFloatArray(h Handle, a *types.FloatArray) error {
	if a == nil {
		return fmt.Errorf("%w: nil float array", ErrInvalidArgument)
	}
	return r.Notify(h, a.Bytes())
}

func (r *Registry) PostNewStateInt16Array(h Handle, a *types.Int16Array) error {
	if a == nil {
		return fmt.Errorf("%w: nil int16 array", ErrInvalidArgument)
	}
	return r.Notify(h, a.Bytes())
}

func (r *Registry) PostNewStateBinary(h Handle, b []byte) error {
	return r.Notify(h, b)
}

// Write requests go straight to the owner's loop on the parameter's write id.

func (r *Registry) PostWriteInt32(h Handle, v int32) error {
	return r.postWrite(h, types.EncodeInt32(v))
}

func (r *Registry) PostWriteInt64(h Handle, v int64) error {
	return r.postWrite(h, types.EncodeInt64(v))
}

func (r *Registry) PostWriteFloat(h Handle, v float32) error {
	return r.postWrite(h, types.EncodeFloat(v))
}

func (r *Registry) PostWriteBool(h Handle, v bool) error {
	return r.postWrite(h, types.EncodeBool(v))
}

func (r *Registry) PostWriteString(h Handle, s string) error {
	return r.postWrite(h, []byte(s))
}

func (r *Registry) PostWriteBinary(h Handle, b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidArgument)
	}
	return r.postWrite(h, b)
}

// PostWriteExecute asks the owner to run the command, with an empty payload
func (r *Registry) PostWriteExecute(h Handle) error {
	return r.postWrite(h, nil)
}

func (r *Registry) postWrite(h Handle, data []byte) error {
	r.mu.RLock()
	s, err := r.slotLocked(h)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	name, owner, writeID := s.name, s.owner, s.writeID
	r.mu.RUnlock()

	if owner == nil {
		metrics.WriteRequestsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	if err := r.bus.Post(owner, writeID, data, r.postTimeout); err != nil {
		metrics.WriteRequestsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return fmt.Errorf("write to %s: %w", name, err)
	}
	metrics.WriteRequestsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

// Typed reads of the bound value. The value may be bound as a pointer or as a
// plain value; a nil binding yields ErrNoValue.

func (r *Registry) Int32Value(h Handle) (int32, error) {
	return readValue[int32](r, h)
}

func (r *Registry) Int64Value(h Handle) (int64, error) {
	return readValue[int64](r, h)
}

func (r *Registry) FloatValue(h Handle) (float32, error) {
	return readValue[float32](r, h)
}

func (r *Registry) BoolValue(h Handle) (bool, error) {
	return readValue[bool](r, h)
}

func (r *Registry) StringValue(h Handle) (string, error) {
	return readValue[string](r, h)
}

func (r *Registry) BinaryValue(h Handle) ([]byte, error) {
	return readValue[[]byte](r, h)
}

func (r *Registry) FloatArrayValue(h Handle) (*types.FloatArray, error) {
	a, err := readValue[*types.FloatArray](r, h)
	if err == nil && a == nil {
		return nil, ErrNoValue
	}
	return a, err
}

func (r *Registry) Int16ArrayValue(h Handle) (*types.Int16Array, error) {
	a, err := readValue[*types.Int16Array](r, h)
	if err == nil && a == nil {
		return nil, ErrNoValue
	}
	return a, err
}

func readValue[T any](r *Registry, h Handle) (T, error) {
	var zero T
	v, err := r.Value(h)
	if err != nil {
		return zero, err
	}
	switch x := v.(type) {
	case nil:
		return zero, ErrNoValue
	case *T:
		if x == nil {
			return zero, ErrNoValue
		}
		return *x, nil
	case T:
		return x, nil
	}
	return zero, fmt.Errorf("%w: value is %T", ErrUnsupported, v)
}
