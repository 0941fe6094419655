package param

import (
	"testing"
	"time"

	"github.com/cuemby/pubparam/pkg/eventbus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBus records registry traffic without delivering anything
type MockBus struct {
	mock.Mock
}

func (m *MockBus) Register(target *eventbus.Loop, id eventbus.MessageID, h eventbus.Handler) (eventbus.Registration, error) {
	args := m.Called(target, id, h)
	return args.Get(0).(eventbus.Registration), args.Error(1)
}

func (m *MockBus) Unregister(reg eventbus.Registration) error {
	args := m.Called(reg)
	return args.Error(0)
}

func (m *MockBus) Post(target *eventbus.Loop, id eventbus.MessageID, data []byte, timeout time.Duration) error {
	args := m.Called(target, id, data, timeout)
	return args.Error(0)
}

func (m *MockBus) TryPost(target *eventbus.Loop, id eventbus.MessageID, data []byte) error {
	args := m.Called(target, id, data)
	return args.Error(0)
}

// loopIs matches exactly the given loop pointer
func loopIs(l *eventbus.Loop) any {
	return mock.MatchedBy(func(got *eventbus.Loop) bool { return got == l })
}

// newTestBus returns a started bus that is stopped when the test ends
func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(16)
	t.Cleanup(bus.Stop)
	return bus
}

func newLoop(t *testing.T, bus *eventbus.Bus, name string) *eventbus.Loop {
	t.Helper()
	l, err := bus.NewLoop(name)
	require.NoError(t, err)
	return l
}

// capture returns a handler that forwards a copy of each payload to the channel
func capture() (eventbus.Handler, <-chan []byte) {
	ch := make(chan []byte, 16)
	return func(ev eventbus.Event) {
		ch <- append([]byte(nil), ev.Data...)
	}, ch
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func assertNothing(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected payload %v", data)
	case <-time.After(50 * time.Millisecond):
	}
}
