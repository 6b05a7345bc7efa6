// Package codec provides document encoding for adapters that persist record
// data as bytes (filesystem files, database blobs). It defines a common
// interface and multiple implementations.
//
// The package focuses on:
//   - Providing a consistent interface for different encoding formats
//   - Keeping the encoding choice an adapter-level policy, invisible to the core
//
// Key Components:
//
//   - ICodec: Core interface that all codec implementations must satisfy.
//
//   - jsonCodecImpl: Implementation using JSON encoding. Human-readable on
//     disk, interoperable, and the default for the bundled adapters.
//
//   - gobCodecImpl: Implementation using Go's built-in gob encoding. Useful
//     when documents only ever pass between Go processes.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
