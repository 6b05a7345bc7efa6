// Package storagetest provides a reusable conformance test suite for
// storage.IAdapter implementations. Adapter packages call RunAdapterTests
// with a factory to verify the behavioral contract: create/find/delete
// round trips, absence as a value, per-item batch isolation, data and
// filter shape rejection, and change notification delivery. Tests for
// operations outside the adapter's declared capability set are skipped.
package storagetest
