package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Emitter synthesizes change notifications for backends without a native
// notification channel. Adapters embed it and call Emit after each
// successful mutating operation, which satisfies the Subscribe/Unsubscribe
// side of the IAdapter contract.
type Emitter struct {
	subs   *xsync.MapOf[Operation, NotifyFunc]
	closed atomic.Bool
}

// NewEmitter creates a new Emitter with no subscriptions.
func NewEmitter() *Emitter {
	return &Emitter{
		subs: xsync.NewMapOf[Operation, NotifyFunc](),
	}
}

// Subscribe registers fn as the single consumer for op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Emitter) Subscribe(op Operation, fn NotifyFunc) error {
	if fn == nil {
		return NewError(RetCUnsupportedData, "nil notification callback")
	}
	if _, loaded := e.subs.LoadOrStore(op, fn); loaded {
		return NewError(RetCUnsupportedOperation, fmt.Sprintf("operation %s already has a notification consumer", op))
	}
	return nil
}

// Unsubscribe removes the consumer for op. Removing a consumer that was
// never registered is a no-op.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Emitter) Unsubscribe(op Operation) error {
	e.subs.Delete(op)
	return nil
}

// Emit delivers one change event to the consumer subscribed for its
// operation, if any. Events emitted after Close are dropped.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Emitter) Emit(op Operation, key string, data interface{}) {
	if e.closed.Load() {
		return
	}
	if fn, ok := e.subs.Load(op); ok {
		fn(Event{Op: op, Key: key, Data: data})
	}
}

// CloseEmitter drops all subscriptions and suppresses further events.
func (e *Emitter) CloseEmitter() {
	if e.closed.CompareAndSwap(false, true) {
		e.subs.Clear()
	}
}
