package param

import (
	"testing"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd_NewStateFloat(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "R")

	h, err := reg.CreateFloat("battery.voltage", nil, nil, nil)
	require.NoError(t, err)

	handler, ch := capture()
	_, err = reg.Subscribe(h, receiver, handler)
	require.NoError(t, err)

	require.NoError(t, reg.PostNewStateFloat(h, 12.5))

	data := receive(t, ch)
	require.Len(t, data, 4)
	v, err := types.DecodeFloat(data)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), v)
}

func TestEndToEnd_WriteInt32(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	owner := newLoop(t, bus, "O")

	var mode int32
	handler, ch := capture()
	h, err := reg.CreateInt32("mode", owner, handler, &mode)
	require.NoError(t, err)

	require.NoError(t, reg.PostWriteInt32(h, 2))

	data := receive(t, ch)
	require.Len(t, data, 4)
	v, err := types.DecodeInt32(data)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
}

func TestPostWrite_Types(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	owner := newLoop(t, bus, "owner")

	handler, ch := capture()

	h64, err := reg.CreateInt64("total", owner, handler, nil)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteInt64(h64, -7))
	v64, err := types.DecodeInt64(receive(t, ch))
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v64)

	hf, err := reg.CreateFloat("setpoint", owner, handler, nil)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteFloat(hf, 21.5))
	vf, err := types.DecodeFloat(receive(t, ch))
	require.NoError(t, err)
	assert.Equal(t, float32(21.5), vf)

	hb, err := reg.CreateBool("pump", owner, handler, nil)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteBool(hb, true))
	vb, err := types.DecodeBool(receive(t, ch))
	require.NoError(t, err)
	assert.True(t, vb)

	hs, err := reg.CreateString("label", owner, handler, nil)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteString(hs, "kitchen"))
	assert.Equal(t, []byte("kitchen"), receive(t, ch), "no terminator")

	hbin, err := reg.CreateBinary("firmware", owner, handler, nil)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteBinary(hbin, []byte{0xde, 0xad}))
	assert.Equal(t, []byte{0xde, 0xad}, receive(t, ch))
	assert.ErrorIs(t, reg.PostWriteBinary(hbin, nil), ErrInvalidArgument)

	hx, err := reg.CreateExecute("reboot", owner, handler)
	require.NoError(t, err)
	require.NoError(t, reg.PostWriteExecute(hx))
	assert.Empty(t, receive(t, ch))
}

func TestPostWrite_ReadOnly(t *testing.T) {
	reg := New(new(MockBus))
	h, err := reg.CreateFloat("sensor", nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.PostWriteFloat(h, 1), ErrReadOnly)
	assert.ErrorIs(t, reg.PostWriteExecute(Handle{}), ErrInvalidArgument)
}

func TestCreate_WriteHandlerNeedsOwner(t *testing.T) {
	bus := new(MockBus)
	reg := New(bus)

	_, err := reg.CreateInt32("loose", nil, func(eventbus.Event) {}, nil)
	require.NoError(t, err)
	bus.AssertNotCalled(t, "Register")
}

func TestUnregisterWriteHandler(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	owner := newLoop(t, bus, "owner")

	h, err := reg.CreateBool("relay", owner, func(eventbus.Event) {}, nil)
	require.NoError(t, err)
	_, writeID, _ := reg.MessageIDs(h)
	assert.Equal(t, 1, owner.HandlerCount(writeID))

	require.NoError(t, reg.UnregisterWriteHandler(h))
	assert.Equal(t, 0, owner.HandlerCount(writeID))
	require.NoError(t, reg.UnregisterWriteHandler(h), "second call is a no-op")
	require.NoError(t, reg.Delete(h))
}

func TestPostNewState_Arrays(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "plotter")

	hf, err := reg.CreateFloatArray("spectrum", nil, nil)
	require.NoError(t, err)
	hi, err := reg.CreateInt16Array("samples", nil, nil)
	require.NoError(t, err)

	handler, ch := capture()
	_, err = reg.Subscribe(hf, receiver, handler)
	require.NoError(t, err)
	_, err = reg.Subscribe(hi, receiver, handler)
	require.NoError(t, err)

	fa, err := reg.AllocateFloatArray(3)
	require.NoError(t, err)
	defer reg.FreeFloatArray(fa)
	fa.Set(0, 1.5)
	fa.Set(2, -2)
	require.NoError(t, reg.PostNewStateFloatArray(hf, fa))

	gotF, err := types.FloatArrayFromBytes(receive(t, ch))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 0, -2}, gotF.Values())

	ia, err := reg.AllocateInt16Array(2)
	require.NoError(t, err)
	defer reg.FreeInt16Array(ia)
	ia.Set(1, -300)
	require.NoError(t, reg.PostNewStateInt16Array(hi, ia))

	gotI, err := types.Int16ArrayFromBytes(receive(t, ch))
	require.NoError(t, err)
	assert.Equal(t, []int16{0, -300}, gotI.Values())

	assert.ErrorIs(t, reg.PostNewStateFloatArray(hf, nil), ErrInvalidArgument)
}

func TestPostNewState_StringAndBinary(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "console")

	hs, err := reg.CreateString("status", nil, nil, nil)
	require.NoError(t, err)
	hb, err := reg.CreateBinary("frame", nil, nil, nil)
	require.NoError(t, err)

	handler, ch := capture()
	_, err = reg.Subscribe(hs, receiver, handler)
	require.NoError(t, err)
	_, err = reg.Subscribe(hb, receiver, handler)
	require.NoError(t, err)

	require.NoError(t, reg.PostNewStateString(hs, "charging"))
	assert.Equal(t, []byte("charging"), receive(t, ch))

	require.NoError(t, reg.PostNewStateBinary(hb, []byte{1, 2, 3}))
	assert.Equal(t, []byte{1, 2, 3}, receive(t, ch))

	assert.ErrorIs(t, reg.PostNewStateString(hs, ""), ErrInvalidArgument)
}

func TestTypedValues(t *testing.T) {
	reg := New(new(MockBus))

	voltage := float32(12.5)
	hf, err := reg.CreateFloat("v", nil, nil, &voltage)
	require.NoError(t, err)
	got, err := reg.FloatValue(hf)
	require.NoError(t, err)
	assert.Equal(t, float32(12.5), got)

	voltage = 13
	got, _ = reg.FloatValue(hf)
	assert.Equal(t, float32(13), got, "reads go through the owner's storage")

	hn, err := reg.CreateInt32("unset", nil, nil, nil)
	require.NoError(t, err)
	_, err = reg.Int32Value(hn)
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = reg.BoolValue(hf)
	assert.ErrorIs(t, err, ErrUnsupported)

	require.NoError(t, reg.SetValue(hn, int32(9)))
	n, err := reg.Int32Value(hn)
	require.NoError(t, err)
	assert.Equal(t, int32(9), n)

	var nilPtr *int64
	hp, err := reg.Create("nilptr", nil, types.TypeInt64, nil, nilPtr)
	require.NoError(t, err)
	_, err = reg.Int64Value(hp)
	assert.ErrorIs(t, err, ErrNoValue)

	label := "idle"
	require.NoError(t, reg.SetValue(hn, &label))
	s, err := reg.StringValue(hn)
	require.NoError(t, err)
	assert.Equal(t, "idle", s)

	ha, err := reg.CreateFloatArray("arr", nil, nil)
	require.NoError(t, err)
	_, err = reg.FloatArrayValue(ha)
	assert.ErrorIs(t, err, ErrNoValue)
	arr, err := reg.AllocateFloatArray(1)
	require.NoError(t, err)
	require.NoError(t, reg.SetValue(ha, arr))
	bound, err := reg.FloatArrayValue(ha)
	require.NoError(t, err)
	assert.Same(t, arr, bound)
}
