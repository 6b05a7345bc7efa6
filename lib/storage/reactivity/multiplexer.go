package reactivity

import (
	"reflect"
	"sync"

	"github.com/polystore/polystore/lib/storage"
	"github.com/rs/zerolog"
)

// registration is one listener entry. Listeners are identified by the code
// pointer of their callback so that re-registering the identical callback is
// a no-op and Off can remove it again.
type registration struct {
	id uintptr
	fn storage.Listener
}

// Multiplexer converts an adapter's native change signaling into one
// per-operation publish/subscribe stream. It subscribes exactly once to the
// adapter's notification channel for every data operation in the adapter's
// capability set and fans each notification out to the currently registered
// listeners for that operation, synchronously and in registration order.
//
// The Multiplexer holds a non-owning reference to the adapter; the owning
// dispatcher is responsible for calling Close on teardown.
type Multiplexer struct {
	adapter storage.IAdapter
	logger  zerolog.Logger

	mu         sync.RWMutex
	listeners  map[storage.Operation][]registration
	subscribed []storage.Operation
	closed     bool
}

// NewMultiplexer creates a Multiplexer bound to the given adapter and wires
// the native subscriptions for every data operation the adapter declares.
func NewMultiplexer(adapter storage.IAdapter, logger zerolog.Logger) (*Multiplexer, error) {
	m := &Multiplexer{
		adapter:   adapter,
		logger:    logger,
		listeners: make(map[storage.Operation][]registration),
	}

	// One native subscription per declared data operation, never for
	// operations outside the capability set.
	dataOps := adapter.Info().Capabilities & ^(storage.OpOn | storage.OpOff)
	for _, op := range dataOps.Each() {
		op := op
		if err := adapter.Subscribe(op, func(ev storage.Event) {
			m.dispatch(op, ev)
		}); err != nil {
			// roll back the subscriptions made so far
			for _, sub := range m.subscribed {
				_ = adapter.Unsubscribe(sub)
			}
			return nil, storage.WrapAdapterErr(adapter.Info().Name, err)
		}
		m.subscribed = append(m.subscribed, op)
	}

	return m, nil
}

// On registers the callback for the given operation. Re-registering the
// identical callback for the same operation is a no-op; the callback will be
// invoked once per event regardless.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Multiplexer) On(op storage.Operation, fn storage.Listener) error {
	if fn == nil {
		return storage.NewError(storage.RetCUnsupportedData, "nil listener")
	}

	id := reflect.ValueOf(fn).Pointer()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return storage.NewError(storage.RetCAdapterFailure, "multiplexer is closed")
	}
	for _, reg := range m.listeners[op] {
		if reg.id == id {
			return nil
		}
	}
	m.listeners[op] = append(m.listeners[op], registration{id: id, fn: fn})
	return nil
}

// Off removes the callback's registration for the given operation. Removing
// a callback that is not registered is a silent no-op, never an error.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Multiplexer) Off(op storage.Operation, fn storage.Listener) error {
	if fn == nil {
		return nil
	}

	id := reflect.ValueOf(fn).Pointer()

	m.mu.Lock()
	defer m.mu.Unlock()

	regs := m.listeners[op]
	for i, reg := range regs {
		if reg.id == id {
			m.listeners[op] = append(regs[:i:i], regs[i+1:]...)
			return nil
		}
	}
	return nil
}

// ListenerCount returns the number of listeners currently registered for the
// given operation.
func (m *Multiplexer) ListenerCount(op storage.Operation) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[op])
}

// Close unsubscribes from every native channel the Multiplexer subscribed to
// and drops all listener registrations. It is called by the owning
// dispatcher on disposal.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subscribed := m.subscribed
	m.subscribed = nil
	m.listeners = make(map[storage.Operation][]registration)
	m.mu.Unlock()

	for _, op := range subscribed {
		_ = m.adapter.Unsubscribe(op)
	}
	return nil
}

// dispatch invokes every currently registered listener for op, in
// registration order, passing the event unmodified. Each invocation is
// isolated: a panicking listener never prevents the remaining listeners from
// running and never propagates back to the adapter.
func (m *Multiplexer) dispatch(op storage.Operation, ev storage.Event) {
	m.mu.RLock()
	regs := make([]registration, len(m.listeners[op]))
	copy(regs, m.listeners[op])
	m.mu.RUnlock()

	for _, reg := range regs {
		m.invoke(op, reg, ev)
	}
}

// invoke runs a single listener behind a recover barrier.
func (m *Multiplexer) invoke(op storage.Operation, reg registration, ev storage.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("operation", op.String()).
				Str("key", ev.Key).
				Interface("panic", r).
				Msg("listener panicked")
		}
	}()
	reg.fn(ev)
}
