// Package memory provides a full-capability in-memory adapter backed by a
// concurrent hash map. It supports the complete operation vocabulary and
// synthesizes change notifications by emitting on every successful mutating
// operation.
//
// Data is held as documents (map[string]interface{}); other data shapes are
// rejected with an UnsupportedData error. Filters follow the bundled-adapter
// Match convention (exact key, key prefix, or everything). Nothing is
// persisted: the adapter is intended for tests, caches and ephemeral usage.
package memory
