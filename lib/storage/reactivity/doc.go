// Package reactivity turns backend-specific change signaling into one
// normalized per-operation publish/subscribe stream, enabling two-way sync
// consumers (UI bindings, replication agents) to observe storage mutations
// without knowing the backend.
//
// The Multiplexer subscribes exactly once to the bound adapter's native
// notification channel for every data operation in the adapter's capability
// set. Each arriving notification is delivered synchronously to the
// listeners registered for that operation, in registration order. Listener
// invocations are isolated from one another and from the adapter.
//
// Registration is idempotent per callback identity: registering the same
// callback twice for the same operation leaves a single registration, and a
// single Off removes it. Removing an unregistered callback is a silent
// no-op.
//
// The Multiplexer is owned by the dispatcher in lib/storage/dispatcher and
// is torn down with it, unsubscribing every native channel it subscribed to.
package reactivity
