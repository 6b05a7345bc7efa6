package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/polystore/polystore/lib/codec"
	"github.com/polystore/polystore/lib/storage"
	"github.com/rs/zerolog"
)

// validate is the shared validator instance.
var validate = validator.New()

// Capabilities declared by the filesystem adapter. Batch operations are
// deliberately absent: a file-per-record backend has no batching advantage,
// and omitting them exercises the graceful-degradation path of the
// dispatcher.
const Capabilities = storage.OpCreate | storage.OpFind | storage.OpFindOne |
	storage.OpDelete | storage.OpUpdateOne | storage.OpOn | storage.OpOff

// Options configures the adapter behavior during initialization
type Options struct {
	Name   string         // Instance name used for error attribution
	Root   string         `validate:"required"` // Directory holding the record files
	Codec  codec.ICodec   // Document codec, JSON if nil
	Logger zerolog.Logger // Logger for watcher errors
}

// adapterImpl implements storage.IAdapter with one file per record beneath a
// root directory. Keys are path-like ("user/1" maps to <root>/user/1.json).
// Change notifications are native: a filesystem watcher observes the root,
// so mutations performed by other processes are delivered too.
type adapterImpl struct {
	*storage.Emitter
	name   string
	root   string
	codec  codec.ICodec
	logger zerolog.Logger

	// mu serializes read-modify-write cycles (UpdateOne) against writers.
	mu sync.Mutex

	watcher *watcher
}

// New creates a new filesystem adapter rooted at opts.Root. The root
// directory is created if it does not exist. Construction fails on an
// invalid configuration rather than at call time.
func New(opts *Options) (storage.IAdapter, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := validate.Struct(opts); err != nil {
		return nil, storage.NewError(storage.RetCUnsupportedData, "invalid adapter options: "+err.Error())
	}
	if opts.Name == "" {
		opts.Name = "fs"
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSONCodec()
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}

	a := &adapterImpl{
		Emitter: storage.NewEmitter(),
		name:    opts.Name,
		root:    root,
		codec:   opts.Codec,
		logger:  opts.Logger,
	}

	w, err := newWatcher(a)
	if err != nil {
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}
	a.watcher = w

	return a, nil
}

// --------------------------------------------------------------------------
// Key <-> Path Mapping
// --------------------------------------------------------------------------

// keyToPath maps a record key to its file path, rejecting keys that would
// escape the root directory.
func (a *adapterImpl) keyToPath(key string) (string, error) {
	if err := storage.ValidateKey(a.name, key); err != nil {
		return "", err
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return "", a.badKey(key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", a.badKey(key)
		}
	}
	return filepath.Join(a.root, filepath.FromSlash(key)+"."+a.codec.Ext()), nil
}

func (a *adapterImpl) badKey(key string) error {
	return &storage.Error{
		Code:    storage.RetCUnsupportedData,
		Adapter: a.name,
		Msg:     "key is not a clean relative path: " + key,
	}
}

// pathToKey maps a record file path back to its key, reporting false for
// paths that are not record files of this adapter.
func (a *adapterImpl) pathToKey(path string) (string, bool) {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	suffix := "." + a.codec.Ext()
	if !strings.HasSuffix(rel, suffix) {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, suffix)), true
}

// --------------------------------------------------------------------------
// Interface Methods (docu see storage.IAdapter)
// --------------------------------------------------------------------------

func (a *adapterImpl) Info() storage.AdapterInfo {
	return storage.AdapterInfo{
		Name:         a.name,
		Impl:         storage.ImplFS,
		Capabilities: Capabilities,
		Metadata: &struct {
			Root  string `json:"root"`
			Codec string `json:"codec"`
		}{
			Root:  a.root,
			Codec: a.codec.Ext(),
		},
	}
}

func (a *adapterImpl) Create(_ context.Context, key string, data interface{}) (bool, error) {
	doc, err := storage.AsDocument(a.name, data)
	if err != nil {
		return false, err
	}
	path, err := a.keyToPath(key)
	if err != nil {
		return false, err
	}
	encoded, err := a.encode(doc)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}

	// The record must appear with its full content in a single filesystem
	// operation, otherwise the watcher observes an empty create followed by
	// a write. The payload is staged in a temp file (its name carries no
	// codec extension, so the watcher ignores it) and hard-linked into
	// place; link fails if the key already exists.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".create-*.tmp")
	if err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return false, storage.WrapAdapterErr(a.name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return false, storage.WrapAdapterErr(a.name, err)
	}
	if err := tmp.Close(); err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, storage.WrapAdapterErr(a.name, err)
	}
	return true, nil
}

func (a *adapterImpl) CreateMany(context.Context, []storage.Record) ([]storage.BatchResult, error) {
	return nil, a.unsupported("createMany")
}

func (a *adapterImpl) Find(_ context.Context, filter storage.Filter) ([]storage.Record, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return nil, err
	}

	keys, err := a.matchingKeys(match)
	if err != nil {
		return nil, err
	}

	records := make([]storage.Record, 0, len(keys))
	for _, key := range keys {
		doc, ok, err := a.read(key)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, storage.Record{Key: key, Data: doc})
		}
	}
	return records, nil
}

func (a *adapterImpl) FindOne(_ context.Context, filter storage.Filter) (*storage.Record, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return nil, err
	}

	if match.Key != "" {
		doc, ok, err := a.read(match.Key)
		if err != nil || !ok {
			return nil, err
		}
		return &storage.Record{Key: match.Key, Data: doc}, nil
	}

	keys, err := a.matchingKeys(match)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		doc, ok, err := a.read(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return &storage.Record{Key: key, Data: doc}, nil
		}
	}
	return nil, nil
}

func (a *adapterImpl) Delete(_ context.Context, filter storage.Filter) (bool, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return false, err
	}

	keys, err := a.matchingKeys(match)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	path, err := a.keyToPath(keys[0])
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.WrapAdapterErr(a.name, err)
	}
	return true, nil
}

func (a *adapterImpl) DeleteMany(context.Context, storage.Filter) ([]storage.BatchResult, error) {
	return nil, a.unsupported("deleteMany")
}

func (a *adapterImpl) UpdateOne(_ context.Context, filter storage.Filter, updates interface{}) (bool, error) {
	patch, err := storage.AsDocument(a.name, updates)
	if err != nil {
		return false, err
	}
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return false, err
	}

	keys, err := a.matchingKeys(match)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	path, err := a.keyToPath(keys[0])
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}

	doc, err := a.codec.Decode(raw)
	if err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}

	encoded, err := a.encode(storage.MergeDocument(doc, patch))
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return false, storage.WrapAdapterErr(a.name, err)
	}
	return true, nil
}

func (a *adapterImpl) Close() error {
	a.CloseEmitter()
	return a.watcher.close()
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

func (a *adapterImpl) unsupported(op string) error {
	return &storage.Error{
		Code:    storage.RetCUnsupportedOperation,
		Adapter: a.name,
		Msg:     op + " operation is not supported",
	}
}

// encode wraps codec failures as data-shape rejections: the document holds
// values the configured encoding cannot represent.
func (a *adapterImpl) encode(doc map[string]interface{}) ([]byte, error) {
	encoded, err := a.codec.Encode(doc)
	if err != nil {
		return nil, &storage.Error{
			Code:    storage.RetCUnsupportedData,
			Adapter: a.name,
			Msg:     "document cannot be encoded",
			Err:     err,
		}
	}
	return encoded, nil
}

// read loads and decodes one record file. ok is false if the record does
// not exist.
func (a *adapterImpl) read(key string) (map[string]interface{}, bool, error) {
	path, err := a.keyToPath(key)
	if err != nil {
		return nil, false, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storage.WrapAdapterErr(a.name, err)
	}

	doc, err := a.codec.Decode(raw)
	if err != nil {
		return nil, false, storage.WrapAdapterErr(a.name, err)
	}
	return doc, true, nil
}

// matchingKeys walks the root and returns all record keys satisfying the
// filter, sorted for stable results.
func (a *adapterImpl) matchingKeys(match storage.Match) ([]string, error) {
	if match.Key != "" {
		path, err := a.keyToPath(match.Key)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, storage.WrapAdapterErr(a.name, err)
		}
		return []string{match.Key}, nil
	}

	var keys []string
	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if key, ok := a.pathToKey(path); ok && match.Matches(key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storage.WrapAdapterErr(a.name, err)
	}

	sort.Strings(keys)
	return keys, nil
}
