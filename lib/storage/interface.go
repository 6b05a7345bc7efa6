package storage

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// AdapterFactory is a function type that creates a new adapter. It is used to
// abstract the creation of the backend from the code binding it.
type AdapterFactory func() (IAdapter, error)

// IAdapter is the contract every backend driver must satisfy. An adapter
// declares its capability set at construction time; an operation absent from
// that set must never be invoked on it. Methods outside the declared set may
// be stubs.
//
// All data operations are blocking and honor ctx cancellation where the
// backend allows it. Key uniqueness is enforced by the adapter, not the core.
type IAdapter interface {
	// Info returns metadata about the adapter instance, including its
	// declared capability set.
	Info() AdapterInfo

	// Create inserts a record. It returns false (and no error) if the key
	// already exists.
	Create(ctx context.Context, key string, data interface{}) (created bool, err error)

	// CreateMany inserts the given records sequentially with no atomicity
	// guarantee. The result has exactly one entry per input, in input order,
	// each independently success or error.
	CreateMany(ctx context.Context, entries []Record) (results []BatchResult, err error)

	// Find returns all records matching the filter. Order is adapter-defined.
	Find(ctx context.Context, filter Filter) (records []Record, err error)

	// FindOne returns one matching record, or nil if there is no match.
	// Absence is not an error.
	FindOne(ctx context.Context, filter Filter) (record *Record, err error)

	// Delete removes the first record matching the filter. It returns false
	// (and no error) if nothing matched.
	Delete(ctx context.Context, filter Filter) (deleted bool, err error)

	// DeleteMany removes all records matching the filter. The result has one
	// entry per matched record; per-item failures are isolated.
	DeleteMany(ctx context.Context, filter Filter) (results []BatchResult, err error)

	// UpdateOne applies updates to the first record matching the filter. It
	// returns false (and no error) if nothing matched.
	UpdateOne(ctx context.Context, filter Filter, updates interface{}) (updated bool, err error)

	// Subscribe registers fn as the single consumer of change notifications
	// for the given operation. A second Subscribe for the same operation
	// without an intervening Unsubscribe is an error.
	Subscribe(op Operation, fn NotifyFunc) error

	// Unsubscribe removes the notification consumer for the given operation.
	// Unsubscribing an operation without a consumer is a no-op.
	Unsubscribe(op Operation) error

	// Close releases backend resources. The adapter must not emit
	// notifications after Close returns.
	Close() error
}

// IVersionStore is an optional interface for adapters with a native schema
// version concept (e.g. sqlite's user_version pragma). Backends without one
// get a tracking record written through the dispatcher instead.
type IVersionStore interface {
	// Version returns the persisted schema version, 0 if never set.
	Version(ctx context.Context) (uint64, error)

	// SetVersion persists the schema version.
	SetVersion(ctx context.Context, version uint64) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the typed error returned by all core components. It wraps a
// return code, the identity of the originating adapter (if any) and an
// optional cause.
type Error struct {
	Code    RetCode // The return code
	Adapter string  // Originating adapter name, empty for core errors
	Msg     string  // The error message
	Err     error   // The wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	s := fmt.Sprintf("StorageError (code %s)", e.Code)
	if e.Adapter != "" {
		s += fmt.Sprintf(" [adapter %s]", e.Adapter)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += fmt.Sprintf(": %v", e.Err)
	}
	return s
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapAdapterErr wraps an opaque backend failure with the originating
// adapter's identity. Errors that already carry a code pass through
// unchanged so capability and data-shape rejections keep their type.
func WrapAdapterErr(adapter string, err error) error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		if typed.Adapter == "" {
			typed.Adapter = adapter
		}
		return typed
	}
	return &Error{
		Code:    RetCAdapterFailure,
		Adapter: adapter,
		Msg:     "backend operation failed",
		Err:     err,
	}
}

// CodeOf returns the return code carried by err, or RetCAdapterFailure for
// untyped errors and RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	if typed, ok := err.(*Error); ok {
		return typed.Code
	}
	return RetCAdapterFailure
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Operation executed successfully.
	RetCUnsupportedOperation                // 1: Operation is not in the adapter's capability set.
	RetCUnsupportedData                     // 2: Adapter rejected the shape of the data or filter.
	RetCAdapterFailure                      // 3: Opaque backend I/O failure.
	RetCMigrationHalted                     // 4: A migration step failed.
	RetCConcurrentMigration                 // 5: A migration run was already active for the target.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCUnsupportedData:
		return "UnsupportedData"
	case RetCAdapterFailure:
		return "AdapterFailure"
	case RetCMigrationHalted:
		return "MigrationHalted"
	case RetCConcurrentMigration:
		return "ConcurrentMigrationRejected"
	default:
		return "Unknown"
	}
}
