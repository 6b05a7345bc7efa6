package reactivity

import (
	"context"
	"testing"

	"github.com/polystore/polystore/lib/adapters/memory"
	"github.com/polystore/polystore/lib/storage"
	"github.com/rs/zerolog"
)

func newTestMux(t *testing.T) (*Multiplexer, storage.IAdapter) {
	t.Helper()
	adapter := memory.New(nil)
	mux, err := NewMultiplexer(adapter, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMultiplexer failed: %v", err)
	}
	t.Cleanup(func() {
		_ = mux.Close()
		_ = adapter.Close()
	})
	return mux, adapter
}

func TestNativeSubscriptionsAreExclusive(t *testing.T) {
	_, adapter := newTestMux(t)

	// the multiplexer already holds the single consumer slot for every data
	// operation, so a direct subscription must be rejected
	err := adapter.Subscribe(storage.OpCreate, func(storage.Event) {})
	if err == nil {
		t.Error("expected a second subscription for the same operation to fail")
	}
}

func TestRegistrationOrderDelivery(t *testing.T) {
	mux, adapter := newTestMux(t)

	var order []string
	if err := mux.On(storage.OpCreate, func(storage.Event) { order = append(order, "first") }); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if err := mux.On(storage.OpCreate, func(storage.Event) { order = append(order, "second") }); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	// memory adapter notifications are synchronous, so delivery completes
	// before Create returns
	if _, err := adapter.Create(context.Background(), "user/1", map[string]interface{}{"v": 1}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected delivery order: %v", order)
	}
}

func TestIdempotentRegistration(t *testing.T) {
	mux, adapter := newTestMux(t)

	invocations := 0
	listener := func(storage.Event) { invocations++ }

	if err := mux.On(storage.OpCreate, listener); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if err := mux.On(storage.OpCreate, listener); err != nil {
		t.Fatalf("repeated On failed: %v", err)
	}
	if n := mux.ListenerCount(storage.OpCreate); n != 1 {
		t.Errorf("expected 1 registration, got %d", n)
	}

	if _, err := adapter.Create(context.Background(), "user/1", map[string]interface{}{"v": 1}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if invocations != 1 {
		t.Errorf("listener invoked %d times, expected once", invocations)
	}

	// a single Off undoes the single registration
	if err := mux.Off(storage.OpCreate, listener); err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	if n := mux.ListenerCount(storage.OpCreate); n != 0 {
		t.Errorf("expected 0 registrations after Off, got %d", n)
	}
}

func TestOffUnknownListenerIsSilent(t *testing.T) {
	mux, _ := newTestMux(t)

	if err := mux.Off(storage.OpCreate, func(storage.Event) {}); err != nil {
		t.Errorf("Off of an unregistered listener returned %v", err)
	}
	if err := mux.Off(storage.OpCreate, nil); err != nil {
		t.Errorf("Off with nil listener returned %v", err)
	}
}

func TestNilListenerRejected(t *testing.T) {
	mux, _ := newTestMux(t)

	if err := mux.On(storage.OpCreate, nil); storage.CodeOf(err) != storage.RetCUnsupportedData {
		t.Errorf("expected UnsupportedData for nil listener, got %v", err)
	}
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	mux, adapter := newTestMux(t)

	secondRan := false
	if err := mux.On(storage.OpCreate, func(storage.Event) { panic("boom") }); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if err := mux.On(storage.OpCreate, func(storage.Event) { secondRan = true }); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	if _, err := adapter.Create(context.Background(), "user/1", map[string]interface{}{"v": 1}); err != nil {
		t.Fatalf("Create must not observe the listener panic: %v", err)
	}
	if !secondRan {
		t.Error("listener after the panicking one was not invoked")
	}
}

func TestCloseTearsDownSubscriptions(t *testing.T) {
	adapter := memory.New(nil)
	defer adapter.Close()

	mux, err := NewMultiplexer(adapter, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMultiplexer failed: %v", err)
	}

	invoked := false
	if err := mux.On(storage.OpCreate, func(storage.Event) { invoked = true }); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mux.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// the native consumer slots are free again after teardown
	if err := adapter.Subscribe(storage.OpCreate, func(storage.Event) {}); err != nil {
		t.Errorf("expected the consumer slot to be released, got %v", err)
	}

	if _, err := adapter.Create(context.Background(), "user/1", map[string]interface{}{"v": 1}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if invoked {
		t.Error("listener invoked after Close")
	}

	if err := mux.On(storage.OpCreate, func(storage.Event) {}); err == nil {
		t.Error("expected On to fail on a closed multiplexer")
	}
}
