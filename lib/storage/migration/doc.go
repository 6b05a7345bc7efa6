// Package migration provides an ordered, idempotent migration runner that
// safely evolves stored schemas across versions, even when the backend has
// no native version concept.
//
// The runner executes a declared, immutable sequence of steps against one
// storage target. A persisted integer VersionMarker records how many steps
// have been applied; it starts at 0, is incremented by exactly 1 after each
// successful step, and is never decremented. The applied steps are therefore
// always a strict prefix of the declared sequence: steps are never
// reordered, skipped, or re-applied after success.
//
// On a step failure the run transitions to Halted with the failing step's
// index and cause; the marker stays at the last successful step so that a
// retried run resumes exactly there. Side effects of the failed step are not
// rolled back, which is why steps must be written idempotently.
//
// The VersionMarker is stored through the adapter's native versioning where
// available (for example the sqlite adapter's user_version pragma) and in a
// dedicated tracking record written through the dispatcher otherwise.
//
// Only one run may be active against a target at a time; a concurrent run
// request is rejected fast with a ConcurrentMigrationRejected error rather
// than interleaved, since interleaved runs could race on the marker and
// apply steps out of order or twice.
package migration
