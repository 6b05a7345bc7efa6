package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/reactivity"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStorage is the caller-facing facade over one bound adapter. Every data
// operation is validated against the adapter's declared capability set
// before being forwarded; an unsupported operation fails with an
// UnsupportedOperation error and never reaches the adapter.
type IStorage interface {
	// Create inserts a record. It returns false (and no error) if the key
	// already exists.
	Create(ctx context.Context, key string, data interface{}) (created bool, err error)
	// CreateMany inserts records sequentially with no atomicity guarantee.
	// The result has exactly one entry per input, in input order; a failing
	// item never aborts or rolls back the others.
	CreateMany(ctx context.Context, entries []storage.Record) (results []storage.BatchResult, err error)
	// Find returns all records matching the filter. Order is adapter-defined.
	Find(ctx context.Context, filter storage.Filter) (records []storage.Record, err error)
	// FindOne returns one matching record, or nil if there is no match.
	// Absence is never an error.
	FindOne(ctx context.Context, filter storage.Filter) (record *storage.Record, err error)
	// Delete removes the first record matching the filter. It returns false
	// (and no error) if nothing matched.
	Delete(ctx context.Context, filter storage.Filter) (deleted bool, err error)
	// DeleteMany removes all records matching the filter, one result entry
	// per matched record, per-item failures isolated.
	DeleteMany(ctx context.Context, filter storage.Filter) (results []storage.BatchResult, err error)
	// UpdateOne applies updates to the first record matching the filter. It
	// returns false (and no error) if nothing matched.
	UpdateOne(ctx context.Context, filter storage.Filter, updates interface{}) (updated bool, err error)
	// On registers a listener for change notifications of one operation.
	On(op storage.Operation, fn storage.Listener) error
	// Off removes a listener registration. Removing an unregistered listener
	// is a silent no-op.
	Off(op storage.Operation, fn storage.Listener) error
	// Info returns metadata about the bound adapter.
	Info() storage.AdapterInfo
	// Versioner returns the adapter's native version store, or nil if the
	// backend has no native version concept.
	Versioner() storage.IVersionStore
	// Close tears down the multiplexer subscriptions and closes the adapter.
	Close() error
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures the dispatcher behavior during initialization
type Options struct {
	Logger zerolog.Logger // Logger used by the dispatcher and multiplexer
}

// DefaultOptions returns the default dispatcher options
func DefaultOptions() *Options {
	return &Options{
		Logger: zerolog.Nop(),
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates a dispatcher bound to exactly one adapter instance. The
// dispatcher exclusively owns the adapter for its lifetime; Close disposes
// both the multiplexer wiring and the adapter.
func New(adapter storage.IAdapter, opts *Options) (IStorage, error) {
	if adapter == nil {
		return nil, storage.NewError(storage.RetCUnsupportedData, "nil adapter")
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	info := adapter.Info()

	d := &dispatcherImpl{
		adapter: adapter,
		info:    info,
		logger:  opts.Logger,
	}

	// Wire the multiplexer only for adapters that expose listener
	// registration at all.
	if info.Capabilities&(storage.OpOn|storage.OpOff) != 0 {
		mux, err := reactivity.NewMultiplexer(adapter, opts.Logger)
		if err != nil {
			return nil, err
		}
		d.mux = mux
	}

	caps := make([]string, 0, len(info.Capabilities.Each()))
	for _, op := range info.Capabilities.Each() {
		caps = append(caps, op.String())
	}
	opts.Logger.Debug().
		Str("adapter", info.Name).
		Str("impl", string(info.Impl)).
		Strs("capabilities", caps).
		Msg("dispatcher bound")

	return d, nil
}

type dispatcherImpl struct {
	adapter storage.IAdapter
	info    storage.AdapterInfo
	mux     *reactivity.Multiplexer
	logger  zerolog.Logger
	closed  atomic.Bool
}

// precheck consults the adapter's capability set and the dispatcher
// lifecycle before any I/O is attempted.
func (d *dispatcherImpl) precheck(op storage.Operation) error {
	if d.closed.Load() {
		return storage.NewError(storage.RetCAdapterFailure, "storage is closed")
	}
	if !d.info.Capabilities.Contains(op) {
		d.count(op, "unsupported")
		return &storage.Error{
			Code:    storage.RetCUnsupportedOperation,
			Adapter: d.info.Name,
			Msg:     fmt.Sprintf("%s operation is not supported", op),
		}
	}
	d.count(op, "calls")
	return nil
}

// normalize attributes adapter failures to the bound adapter and tracks the
// error outcome.
func (d *dispatcherImpl) normalize(op storage.Operation, err error) error {
	if err == nil {
		return nil
	}
	d.count(op, "errors")
	return storage.WrapAdapterErr(d.info.Name, err)
}

// count increments one dispatcher metric.
func (d *dispatcherImpl) count(op storage.Operation, outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(
		`polystore_operations_total{operation=%q,adapter=%q,outcome=%q}`,
		op, d.info.Name, outcome,
	)).Inc()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IStorage)
// --------------------------------------------------------------------------

func (d *dispatcherImpl) Create(ctx context.Context, key string, data interface{}) (bool, error) {
	if err := d.precheck(storage.OpCreate); err != nil {
		return false, err
	}
	if key == "" {
		return false, storage.NewError(storage.RetCUnsupportedData, "record key must not be empty")
	}
	created, err := d.adapter.Create(ctx, key, data)
	return created, d.normalize(storage.OpCreate, err)
}

func (d *dispatcherImpl) CreateMany(ctx context.Context, entries []storage.Record) ([]storage.BatchResult, error) {
	if err := d.precheck(storage.OpCreateMany); err != nil {
		return nil, err
	}
	results, err := d.adapter.CreateMany(ctx, entries)
	return results, d.normalize(storage.OpCreateMany, err)
}

func (d *dispatcherImpl) Find(ctx context.Context, filter storage.Filter) ([]storage.Record, error) {
	if err := d.precheck(storage.OpFind); err != nil {
		return nil, err
	}
	records, err := d.adapter.Find(ctx, filter)
	return records, d.normalize(storage.OpFind, err)
}

func (d *dispatcherImpl) FindOne(ctx context.Context, filter storage.Filter) (*storage.Record, error) {
	if err := d.precheck(storage.OpFindOne); err != nil {
		return nil, err
	}
	record, err := d.adapter.FindOne(ctx, filter)
	return record, d.normalize(storage.OpFindOne, err)
}

func (d *dispatcherImpl) Delete(ctx context.Context, filter storage.Filter) (bool, error) {
	if err := d.precheck(storage.OpDelete); err != nil {
		return false, err
	}
	deleted, err := d.adapter.Delete(ctx, filter)
	return deleted, d.normalize(storage.OpDelete, err)
}

func (d *dispatcherImpl) DeleteMany(ctx context.Context, filter storage.Filter) ([]storage.BatchResult, error) {
	if err := d.precheck(storage.OpDeleteMany); err != nil {
		return nil, err
	}
	results, err := d.adapter.DeleteMany(ctx, filter)
	return results, d.normalize(storage.OpDeleteMany, err)
}

func (d *dispatcherImpl) UpdateOne(ctx context.Context, filter storage.Filter, updates interface{}) (bool, error) {
	if err := d.precheck(storage.OpUpdateOne); err != nil {
		return false, err
	}
	updated, err := d.adapter.UpdateOne(ctx, filter, updates)
	return updated, d.normalize(storage.OpUpdateOne, err)
}

func (d *dispatcherImpl) On(op storage.Operation, fn storage.Listener) error {
	if err := d.precheck(storage.OpOn); err != nil {
		return err
	}
	return d.mux.On(op, fn)
}

func (d *dispatcherImpl) Off(op storage.Operation, fn storage.Listener) error {
	if err := d.precheck(storage.OpOff); err != nil {
		return err
	}
	return d.mux.Off(op, fn)
}

func (d *dispatcherImpl) Info() storage.AdapterInfo {
	return d.adapter.Info()
}

func (d *dispatcherImpl) Versioner() storage.IVersionStore {
	if vs, ok := d.adapter.(storage.IVersionStore); ok {
		return vs
	}
	return nil
}

func (d *dispatcherImpl) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.mux != nil {
		_ = d.mux.Close()
	}
	if err := d.adapter.Close(); err != nil {
		return storage.WrapAdapterErr(d.info.Name, err)
	}
	return nil
}
