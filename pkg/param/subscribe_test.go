package param

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/cuemby/pubparam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ExecuteRejected(t *testing.T) {
	bus := new(MockBus)
	reg := New(bus)
	receiver := eventbus.NewLoop("receiver", 4)

	h, err := reg.CreateExecute("reboot", nil, nil)
	require.NoError(t, err)

	_, err = reg.Subscribe(h, receiver, func(eventbus.Event) {})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 0, reg.SubscriberCount(h))
	bus.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscribe_InvalidArguments(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "receiver")
	h, err := reg.CreateFloat("x", nil, nil, nil)
	require.NoError(t, err)

	_, err = reg.Subscribe(h, nil, func(eventbus.Event) {})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = reg.Subscribe(h, receiver, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = reg.Subscribe(Handle{}, receiver, func(eventbus.Event) {})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, reg.SubscriberCount(h))
}

func TestSubscribe_TwiceReplaces(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "receiver")

	h, err := reg.CreateFloat("battery.voltage", nil, nil, nil)
	require.NoError(t, err)
	stateID, _, err := reg.MessageIDs(h)
	require.NoError(t, err)

	first, firstCh := capture()
	second, secondCh := capture()
	_, err = reg.Subscribe(h, receiver, first)
	require.NoError(t, err)
	_, err = reg.Subscribe(h, receiver, second)
	require.NoError(t, err)

	assert.Equal(t, 1, reg.SubscriberCount(h))
	assert.Equal(t, 1, receiver.HandlerCount(stateID))

	require.NoError(t, reg.PostNewStateFloat(h, 3))
	receive(t, secondCh)
	assertNothing(t, firstCh)
}

func TestUnsubscribe_KeepsSubscriberEntry(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "receiver")

	h, err := reg.CreateFloat("battery.voltage", nil, nil, nil)
	require.NoError(t, err)
	stateID, _, _ := reg.MessageIDs(h)

	handler, ch := capture()
	sub, err := reg.Subscribe(h, receiver, handler)
	require.NoError(t, err)

	require.NoError(t, reg.Unsubscribe(h, receiver, sub))
	assert.Equal(t, 1, reg.SubscriberCount(h), "unsubscribe keeps the entry")
	assert.Equal(t, 0, receiver.HandlerCount(stateID))

	// The post still succeeds, it just reaches no handler
	require.NoError(t, reg.PostNewStateFloat(h, 1))
	assertNothing(t, ch)

	assert.ErrorIs(t, reg.Unsubscribe(h, receiver, sub), eventbus.ErrNotRegistered)
}

func TestUnsubscribe_ZeroRegistrationUsesRecorded(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "receiver")

	h, err := reg.CreateInt32("count", nil, nil, nil)
	require.NoError(t, err)
	stateID, _, _ := reg.MessageIDs(h)

	_, err = reg.Subscribe(h, receiver, func(eventbus.Event) {})
	require.NoError(t, err)
	require.NoError(t, reg.Unsubscribe(h, receiver, eventbus.Registration{}))
	assert.Equal(t, 0, receiver.HandlerCount(stateID))
}

func TestNotify_NoSubscribers(t *testing.T) {
	bus := new(MockBus)
	reg := New(bus)

	h, err := reg.CreateFloat("idle", nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Notify(h, types.EncodeFloat(1)), ErrNoSubscribers)
	assert.ErrorIs(t, reg.NotifyNonBlocking(h, types.EncodeFloat(1)), ErrNoSubscribers)
	assert.NoError(t, reg.PostNewStateFloat(h, 1), "scalar wrapper treats nobody listening as success")
	assert.NoError(t, reg.PostNewStateInt32(h, 1))
	assert.NoError(t, reg.PostNewStateString(h, "x"))

	arr, err := reg.AllocateFloatArray(2)
	require.NoError(t, err)
	assert.ErrorIs(t, reg.PostNewStateFloatArray(h, arr), ErrNoSubscribers)
	assert.ErrorIs(t, reg.PostNewStateBinary(h, []byte{1}), ErrNoSubscribers)

	bus.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	bus.AssertNotCalled(t, "TryPost", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_InvalidArguments(t *testing.T) {
	reg := New(new(MockBus))
	h, err := reg.CreateBinary("blob", nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Notify(h, nil), ErrInvalidArgument)
	assert.ErrorIs(t, reg.NotifyNonBlocking(h, []byte{}), ErrInvalidArgument)
	assert.ErrorIs(t, reg.Notify(Handle{}, []byte{1}), ErrInvalidArgument)
	assert.Equal(t, uint64(0), reg.ChangeCount(h), "rejected calls change nothing")
}

func TestNotify_OneOfThreeFails(t *testing.T) {
	bus := new(MockBus)
	reg := New(bus, WithPostTimeout(5*time.Millisecond))

	a := eventbus.NewLoop("a", 4)
	b := eventbus.NewLoop("b", 4)
	c := eventbus.NewLoop("c", 4)

	bus.On("Register", mock.Anything, mock.Anything, mock.Anything).Return(eventbus.Registration{}, nil)

	h, err := reg.CreateFloat("battery.voltage", nil, nil, nil)
	require.NoError(t, err)
	for _, l := range []*eventbus.Loop{a, b, c} {
		_, err := reg.Subscribe(h, l, func(eventbus.Event) {})
		require.NoError(t, err)
	}
	stateID, _, _ := reg.MessageIDs(h)
	payload := types.EncodeFloat(12.5)

	bus.On("Post", loopIs(a), stateID, payload, 5*time.Millisecond).Return(nil).Once()
	bus.On("Post", loopIs(b), stateID, payload, 5*time.Millisecond).Return(eventbus.ErrPostTimeout).Once()
	bus.On("Post", loopIs(c), stateID, payload, 5*time.Millisecond).Return(nil).Once()

	err = reg.Notify(h, payload)
	require.ErrorIs(t, err, ErrDeliveryFailure)
	assert.Contains(t, err.Error(), "1 of 3")

	bus.AssertExpectations(t)
	assert.Equal(t, uint64(1), reg.ChangeCount(h))
}

func TestNotify_PartialFailureStillDelivers(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus, WithPostTimeout(5*time.Millisecond))

	a := newLoop(t, bus, "a")
	c := newLoop(t, bus, "c")
	dead := eventbus.NewLoop("dead", 4)
	dead.Stop()

	h, err := reg.CreateFloat("battery.voltage", nil, nil, nil)
	require.NoError(t, err)

	handlerA, chA := capture()
	handlerC, chC := capture()
	_, err = reg.Subscribe(h, a, handlerA)
	require.NoError(t, err)
	_, err = reg.Subscribe(h, dead, func(eventbus.Event) {})
	require.NoError(t, err)
	_, err = reg.Subscribe(h, c, handlerC)
	require.NoError(t, err)

	err = reg.PostNewStateFloat(h, 12.5)
	require.ErrorIs(t, err, ErrDeliveryFailure)

	for _, ch := range []<-chan []byte{chA, chC} {
		v, err := types.DecodeFloat(receive(t, ch))
		require.NoError(t, err)
		assert.Equal(t, float32(12.5), v)
	}
}

func TestNotify_AllSucceed(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)

	h, err := reg.CreateInt64("energy", nil, nil, nil)
	require.NoError(t, err)

	var chans []<-chan []byte
	for _, name := range []string{"r1", "r2", "r3"} {
		handler, ch := capture()
		_, err := reg.Subscribe(h, newLoop(t, bus, name), handler)
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	require.NoError(t, reg.PostNewStateInt64(h, 1<<40))
	for _, ch := range chans {
		v, err := types.DecodeInt64(receive(t, ch))
		require.NoError(t, err)
		assert.Equal(t, int64(1<<40), v)
	}
	assert.Equal(t, uint64(1), reg.ChangeCount(h))
}

func TestNotifyNonBlocking_FullQueue(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)

	// Not started, so nothing drains the single queue slot
	slow := eventbus.NewLoop("slow", 1)
	h, err := reg.CreateBool("alarm", nil, nil, nil)
	require.NoError(t, err)
	_, err = reg.Subscribe(h, slow, func(eventbus.Event) {})
	require.NoError(t, err)

	require.NoError(t, reg.NotifyNonBlocking(h, types.EncodeBool(true)))
	assert.Equal(t, 1, slow.Pending())

	done := make(chan error, 1)
	go func() { done <- reg.NotifyNonBlocking(h, types.EncodeBool(false)) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDeliveryFailure)
	case <-time.After(time.Second):
		t.Fatal("NotifyNonBlocking blocked")
	}
	assert.Equal(t, uint64(2), reg.ChangeCount(h))
}

func TestNotifyNonBlocking_DoesNotAllocate(t *testing.T) {
	if raceEnabled {
		t.Skip("allocation counts are not stable under the race detector")
	}
	bus := newTestBus(t)
	reg := New(bus)
	receiver := newLoop(t, bus, "display")

	spectrum, err := reg.AllocateFloatArray(2047)
	require.NoError(t, err)
	defer reg.FreeFloatArray(spectrum)
	require.Len(t, spectrum.Bytes(), 8192)

	tests := []struct {
		name    string
		typ     types.ParamType
		payload []byte
	}{
		{"float", types.TypeFloat, types.EncodeFloat(12.5)},
		{"float array", types.TypeFloatArray, spectrum.Bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := reg.Create(tt.name, nil, tt.typ, nil, nil)
			require.NoError(t, err)

			dispatched := make(chan struct{}, 1)
			_, err = reg.Subscribe(h, receiver, func(eventbus.Event) { dispatched <- struct{}{} })
			require.NoError(t, err)

			failures := 0
			allocs := testing.AllocsPerRun(200, func() {
				if reg.NotifyNonBlocking(h, tt.payload) != nil {
					failures++
					return
				}
				<-dispatched
			})
			assert.Zero(t, failures)
			assert.Zero(t, allocs)
		})
	}
}

func TestSubscribeNotifier(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	owner := newLoop(t, bus, "sampler")
	receiver := newLoop(t, bus, "display")

	h, err := reg.CreateFloat("flow.rate", owner, nil, nil)
	require.NoError(t, err)

	changes := make(chan SubscriptionChange, 4)
	require.NoError(t, reg.SetSubscribeNotifier(h, func(c SubscriptionChange) { changes <- c }))

	sub, err := reg.Subscribe(h, receiver, func(eventbus.Event) {})
	require.NoError(t, err)
	require.NoError(t, reg.Unsubscribe(h, receiver, sub))

	for _, subscribed := range []bool{true, false} {
		select {
		case c := <-changes:
			assert.Equal(t, SubscriptionChange{Parameter: "flow.rate", Receiver: "display", Subscribed: subscribed}, c)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for subscription notice")
		}
	}
}

func TestSubscribeNotifier_IgnoresOtherParameters(t *testing.T) {
	bus := newTestBus(t)
	reg := New(bus)
	owner := newLoop(t, bus, "owner")
	receiver := newLoop(t, bus, "receiver")

	watched, err := reg.CreateFloat("watched", owner, nil, nil)
	require.NoError(t, err)
	other, err := reg.CreateFloat("other", owner, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reg.SetSubscribeNotifier(other, func(SubscriptionChange) {}))

	changes := make(chan SubscriptionChange, 4)
	require.NoError(t, reg.SetSubscribeNotifier(watched, func(c SubscriptionChange) { changes <- c }))

	_, err = reg.Subscribe(other, receiver, func(eventbus.Event) {})
	require.NoError(t, err)

	select {
	case c := <-changes:
		t.Fatalf("unexpected notice %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeNotifier_RequiresOwner(t *testing.T) {
	reg := New(newTestBus(t))
	h, err := reg.CreateFloat("orphan", nil, nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, reg.SetSubscribeNotifier(h, func(SubscriptionChange) {}), ErrReadOnly)
}

func TestSubscribeNotifier_FailureNotSurfaced(t *testing.T) {
	bus := new(MockBus)
	reg := New(bus)
	owner := eventbus.NewLoop("owner", 4)
	receiver := eventbus.NewLoop("receiver", 4)

	bus.On("Register", mock.Anything, mock.Anything, mock.Anything).Return(eventbus.Registration{}, nil)
	bus.On("Post", loopIs(owner), SubscriptionNoticeID, mock.Anything, mock.Anything).Return(errors.New("owner gone"))

	h, err := reg.CreateFloat("x", owner, nil, nil)
	require.NoError(t, err)
	require.NoError(t, reg.SetSubscribeNotifier(h, func(SubscriptionChange) {}))

	_, err = reg.Subscribe(h, receiver, func(eventbus.Event) {})
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.SubscriberCount(h))
	bus.AssertCalled(t, "Post", loopIs(owner), SubscriptionNoticeID, mock.Anything, mock.Anything)
}

func TestSubscriptionNoticeCodec(t *testing.T) {
	in := SubscriptionChange{Parameter: "battery.voltage", Receiver: "display", Subscribed: true}
	out, err := DecodeSubscriptionNotice(EncodeSubscriptionNotice(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeSubscriptionNotice([]byte{1, 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = DecodeSubscriptionNotice([]byte{1, 10, 0, 'a'})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
