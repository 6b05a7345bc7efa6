// Package dispatcher provides the capability-negotiated facade callers use
// to perform record operations against one bound adapter.
//
// The package focuses on:
//   - A unified interface (IStorage) for record operations across backends
//   - Capability negotiation: every call is validated against the adapter's
//     declared operation set before any I/O is attempted, so lightweight
//     adapters can omit batch or query operations safely
//   - Result and error normalization: backend failures are wrapped with the
//     originating adapter's identity, batch operations report per-item
//     outcomes, and absence is a value rather than an error
//
// The dispatcher exclusively owns its adapter and the reactivity
// multiplexer wired over it. Listener registration (On/Off) delegates to the
// multiplexer; data operations forward to the adapter after the capability
// check. Close tears down the multiplexer's native subscriptions and then
// closes the adapter.
//
// Per-operation call, error and capability-miss counters are exported via
// the VictoriaMetrics metrics registry under polystore_operations_total.
package dispatcher
