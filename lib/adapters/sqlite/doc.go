// Package sqlite provides a full-capability adapter persisting records in a
// single-table sqlite database (modernc.org/sqlite, no cgo). Documents are
// encoded with the configured codec and stored in a BLOB column keyed by the
// record key; the table schema is bootstrapped at construction time from
// embedded migration files.
//
// The adapter implements the optional native version interface on top of the
// user_version pragma. A migration run bound to this adapter therefore
// persists its version marker in the database header instead of in a
// tracking record.
//
// Change notifications are synthesized on the adapter's own mutations;
// writes by other processes sharing the database file are not observed.
package sqlite
