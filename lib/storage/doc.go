// Package storage defines the contract between the polystore core and its
// pluggable backend adapters. It provides a closed operation vocabulary,
// capability declaration through bit flags, the shared data model and a
// unified error system.
//
// The package focuses on:
//   - A unified adapter interface (IAdapter) for CRUD-style record operations
//   - Capability discovery through operation flags declared at construction
//   - A normalized change-notification boundary (Subscribe/Unsubscribe)
//   - Standardized, typed error reporting
//
// Key Components:
//
//   - IAdapter Interface: The core abstraction every backend driver must
//     satisfy. An adapter declares the subset of the operation vocabulary it
//     implements; callers (the dispatcher) consult that set before every call
//     so that an unsupported operation never reaches the adapter.
//
//   - Operation Flags: The Operation type defines the fixed operation
//     vocabulary as bit flags. A single flag names one operation; an OR of
//     flags forms a capability set queried with Contains.
//
//   - Data Model: Record pairs a caller-supplied, non-empty key with an
//     opaque data value. Filter is an opaque, adapter-interpretable query
//     description; the bundled adapters all understand the Match shape and
//     reject anything else with an UnsupportedData error.
//
//   - Error System: A structured error mechanism using typed return codes
//     (RetCode) so callers can distinguish a capability miss from a data
//     shape rejection from a transient backend failure. Absence of a record
//     is reported as a value (nil from FindOne, false from Delete/UpdateOne),
//     never as an error.
//
//   - Emitter: A helper for backends that cannot natively signal changes.
//     It implements the notification side of IAdapter by letting the adapter
//     emit one event per successful mutating operation.
//
// Implementations of IAdapter ship in the lib/adapters/... packages: an
// xsync-backed in-memory adapter, a filesystem adapter with native fsnotify
// change events, and a sqlite adapter. The dispatcher in
// lib/storage/dispatcher binds one adapter instance behind the caller-facing
// API.
package storage
