package memory

import (
	"context"
	"sort"

	"github.com/polystore/polystore/lib/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

// Capabilities is the full operation vocabulary: the in-memory backend has
// no structural limitations.
const Capabilities = storage.OpsAll

// Options configures the adapter behavior during initialization
type Options struct {
	Name string // Instance name used for error attribution and metrics
}

// DefaultOptions returns the default adapter options
func DefaultOptions() *Options {
	return &Options{
		Name: "memory",
	}
}

// adapterImpl implements storage.IAdapter over a concurrent hash map. The
// backend cannot natively signal changes, so change notifications are
// synthesized: every capable mutating operation emits on success.
type adapterImpl struct {
	*storage.Emitter
	name string
	data *xsync.MapOf[string, map[string]interface{}]
}

// New creates a new in-memory adapter instance with the specified options
// (optional).
func New(opts *Options) storage.IAdapter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &adapterImpl{
		Emitter: storage.NewEmitter(),
		name:    opts.Name,
		data:    xsync.NewMapOf[string, map[string]interface{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see storage.IAdapter)
// --------------------------------------------------------------------------

func (a *adapterImpl) Info() storage.AdapterInfo {
	return storage.AdapterInfo{
		Name:         a.name,
		Impl:         storage.ImplMemory,
		Capabilities: Capabilities,
		Metadata: &struct {
			Records int `json:"records"`
		}{
			Records: a.data.Size(),
		},
	}
}

func (a *adapterImpl) Create(_ context.Context, key string, data interface{}) (bool, error) {
	inserted, err := a.createOne(key, data)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	a.Emit(storage.OpCreate, key, data)
	return true, nil
}

// createOne validates and inserts a single entry. It reports whether the
// entry was actually stored; an existing key leaves the stored document
// untouched.
func (a *adapterImpl) createOne(key string, data interface{}) (bool, error) {
	if err := storage.ValidateKey(a.name, key); err != nil {
		return false, err
	}
	doc, err := storage.AsDocument(a.name, data)
	if err != nil {
		return false, err
	}

	_, loaded := a.data.LoadOrStore(key, cloneDoc(doc))
	return !loaded, nil
}

func (a *adapterImpl) CreateMany(ctx context.Context, entries []storage.Record) ([]storage.BatchResult, error) {
	results := make([]storage.BatchResult, 0, len(entries))

	// Sequential inserts, no atomicity: one failing entry never aborts or
	// rolls back the others.
	for _, entry := range entries {
		result := storage.BatchResult{Key: entry.Key}

		inserted, err := a.createOne(entry.Key, entry.Data)
		switch {
		case err != nil:
			result.Err = err
		case !inserted:
			result.Err = &storage.Error{
				Code:    storage.RetCAdapterFailure,
				Adapter: a.name,
				Msg:     "key already exists",
			}
		default:
			a.Emit(storage.OpCreateMany, entry.Key, nil)
		}

		results = append(results, result)
	}
	return results, nil
}

func (a *adapterImpl) Find(_ context.Context, filter storage.Filter) ([]storage.Record, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return nil, err
	}

	if match.Key != "" {
		if doc, ok := a.data.Load(match.Key); ok {
			return []storage.Record{{Key: match.Key, Data: cloneDoc(doc)}}, nil
		}
		return []storage.Record{}, nil
	}

	var records []storage.Record
	a.data.Range(func(key string, doc map[string]interface{}) bool {
		if match.Matches(key) {
			records = append(records, storage.Record{Key: key, Data: cloneDoc(doc)})
		}
		return true
	})

	// Range order is random; sort for stable results.
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (a *adapterImpl) FindOne(ctx context.Context, filter storage.Filter) (*storage.Record, error) {
	records, err := a.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (a *adapterImpl) Delete(ctx context.Context, filter storage.Filter) (bool, error) {
	record, err := a.FindOne(ctx, filter)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	if _, loaded := a.data.LoadAndDelete(record.Key); !loaded {
		return false, nil
	}

	a.Emit(storage.OpDelete, record.Key, nil)
	return true, nil
}

func (a *adapterImpl) DeleteMany(ctx context.Context, filter storage.Filter) ([]storage.BatchResult, error) {
	records, err := a.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	results := make([]storage.BatchResult, 0, len(records))
	for _, record := range records {
		result := storage.BatchResult{Key: record.Key}

		if _, loaded := a.data.LoadAndDelete(record.Key); loaded {
			a.Emit(storage.OpDeleteMany, record.Key, nil)
		}

		results = append(results, result)
	}
	return results, nil
}

func (a *adapterImpl) UpdateOne(ctx context.Context, filter storage.Filter, updates interface{}) (bool, error) {
	patch, err := storage.AsDocument(a.name, updates)
	if err != nil {
		return false, err
	}

	record, err := a.FindOne(ctx, filter)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	var merged map[string]interface{}
	a.data.Compute(record.Key, func(doc map[string]interface{}, loaded bool) (map[string]interface{}, bool) {
		if !loaded {
			// deleted in the meantime, recreate from the patch alone
			doc = map[string]interface{}{}
		}
		merged = storage.MergeDocument(doc, patch)
		return merged, false
	})

	a.Emit(storage.OpUpdateOne, record.Key, cloneDoc(merged))
	return true, nil
}

func (a *adapterImpl) Close() error {
	a.CloseEmitter()
	a.data.Clear()
	return nil
}

// cloneDoc copies a document one level deep so stored state is never aliased
// by caller- or listener-held maps.
func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		clone[k] = v
	}
	return clone
}
