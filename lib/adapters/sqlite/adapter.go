package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/polystore/polystore/lib/codec"
	"github.com/polystore/polystore/lib/storage"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// validate is the shared validator instance.
var validate = validator.New()

// Capabilities is the full operation vocabulary. Change notifications are
// synthesized through the embedded emitter, so mutations performed by other
// processes on the same database file are not observed.
const Capabilities = storage.OpsAll

// Options configures the adapter behavior during initialization
type Options struct {
	Name  string       // Instance name used for error attribution
	Path  string       `validate:"required"` // Path to the database file, ":memory:" for ephemeral
	Codec codec.ICodec // Document codec for the data column, JSON if nil
}

// adapterImpl implements storage.IAdapter over a single-table sqlite
// database. Documents are stored encoded in a BLOB column keyed by the
// record key; the schema is bootstrapped with embedded migrations at
// construction time.
//
// The adapter additionally implements storage.IVersionStore on top of the
// user_version pragma, so migration runs against it persist their marker
// natively instead of through a tracking record.
type adapterImpl struct {
	*storage.Emitter
	name  string
	db    *sql.DB
	codec codec.ICodec
}

// New opens (or creates) the database at opts.Path and ensures the record
// schema exists. Construction fails on an invalid configuration or an
// unreachable database rather than at call time.
func New(opts *Options) (storage.IAdapter, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := validate.Struct(opts); err != nil {
		return nil, storage.NewError(storage.RetCUnsupportedData, "invalid adapter options: "+err.Error())
	}
	if opts.Name == "" {
		opts.Name = "sqlite"
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSONCodec()
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", opts.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}

	// A single connection keeps the synthesized notification order aligned
	// with the commit order and sidesteps SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}
	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, storage.WrapAdapterErr(opts.Name, err)
	}

	return &adapterImpl{
		Emitter: storage.NewEmitter(),
		name:    opts.Name,
		db:      db,
		codec:   opts.Codec,
	}, nil
}

// migrateSchema brings the record schema up to date from the embedded
// migration files.
func migrateSchema(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see storage.IAdapter)
// --------------------------------------------------------------------------

func (a *adapterImpl) Info() storage.AdapterInfo {
	var records int
	_ = a.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&records)

	return storage.AdapterInfo{
		Name:         a.name,
		Impl:         storage.ImplSQLite,
		Capabilities: Capabilities,
		Metadata: &struct {
			Records int `json:"records"`
		}{
			Records: records,
		},
	}
}

func (a *adapterImpl) Create(ctx context.Context, key string, data interface{}) (bool, error) {
	inserted, err := a.createOne(ctx, key, data)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	a.Emit(storage.OpCreate, key, data)
	return true, nil
}

// createOne validates and inserts a single entry. It reports whether a row
// was actually written; an existing key leaves the stored document untouched.
func (a *adapterImpl) createOne(ctx context.Context, key string, data interface{}) (bool, error) {
	if err := storage.ValidateKey(a.name, key); err != nil {
		return false, err
	}
	blob, err := a.encode(data)
	if err != nil {
		return false, err
	}

	res, err := a.db.ExecContext(ctx,
		"INSERT INTO records (key, data) VALUES (?, ?) ON CONFLICT(key) DO NOTHING", key, blob)
	if err != nil {
		return false, a.fail(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, a.fail(err)
	}
	return affected > 0, nil
}

func (a *adapterImpl) CreateMany(ctx context.Context, entries []storage.Record) ([]storage.BatchResult, error) {
	results := make([]storage.BatchResult, 0, len(entries))

	// Sequential inserts, no atomicity: one failing entry never aborts or
	// rolls back the others.
	for _, entry := range entries {
		result := storage.BatchResult{Key: entry.Key}

		inserted, err := a.createOne(ctx, entry.Key, entry.Data)
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

func (a *adapterImpl) Find(ctx context.Context, filter storage.Filter) ([]storage.Record, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return nil, err
	}

	where, args := matchClause(match)
	rows, err := a.db.QueryContext(ctx, "SELECT key, data FROM records"+where+" ORDER BY key", args...)
	if err != nil {
		return nil, a.fail(err)
	}
	defer rows.Close()

	records := []storage.Record{}
	for rows.Next() {
		var (
			key  string
			blob []byte
		)
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, a.fail(err)
		}
		doc, err := a.codec.Decode(blob)
		if err != nil {
			return nil, a.fail(fmt.Errorf("corrupt record %q: %w", key, err))
		}
		records = append(records, storage.Record{Key: key, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, a.fail(err)
	}
	return records, nil
}

func (a *adapterImpl) FindOne(ctx context.Context, filter storage.Filter) (*storage.Record, error) {
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return nil, err
	}

	where, args := matchClause(match)
	row := a.db.QueryRowContext(ctx, "SELECT key, data FROM records"+where+" ORDER BY key LIMIT 1", args...)

	var (
		key  string
		blob []byte
	)
	if err := row.Scan(&key, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, a.fail(err)
	}
	doc, err := a.codec.Decode(blob)
	if err != nil {
		return nil, a.fail(fmt.Errorf("corrupt record %q: %w", key, err))
	}
	return &storage.Record{Key: key, Data: doc}, nil
}

func (a *adapterImpl) Delete(ctx context.Context, filter storage.Filter) (bool, error) {
	record, err := a.FindOne(ctx, filter)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	res, err := a.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", record.Key)
	if err != nil {
		return false, a.fail(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, a.fail(err)
	}
	if affected == 0 {
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

		res, err := a.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", record.Key)
		if err != nil {
			result.Err = a.fail(err)
		} else if affected, _ := res.RowsAffected(); affected > 0 {
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
	match, err := storage.ParseMatch(a.name, filter)
	if err != nil {
		return false, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, a.fail(err)
	}
	defer func() { _ = tx.Rollback() }()

	where, args := matchClause(match)
	row := tx.QueryRowContext(ctx, "SELECT key, data FROM records"+where+" ORDER BY key LIMIT 1", args...)

	var (
		key  string
		blob []byte
	)
	if err := row.Scan(&key, &blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, a.fail(err)
	}

	doc, err := a.codec.Decode(blob)
	if err != nil {
		return false, a.fail(fmt.Errorf("corrupt record %q: %w", key, err))
	}
	merged := storage.MergeDocument(doc, patch)
	encoded, err := a.encode(merged)
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE records SET data = ? WHERE key = ?", encoded, key); err != nil {
		return false, a.fail(err)
	}
	if err := tx.Commit(); err != nil {
		return false, a.fail(err)
	}

	a.Emit(storage.OpUpdateOne, key, merged)
	return true, nil
}

func (a *adapterImpl) Close() error {
	a.CloseEmitter()
	return a.db.Close()
}

// --------------------------------------------------------------------------
// Native Version Store
// --------------------------------------------------------------------------

// Version implements storage.IVersionStore via the user_version pragma.
func (a *adapterImpl) Version(ctx context.Context) (uint64, error) {
	var version uint64
	if err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, a.fail(err)
	}
	return version, nil
}

// SetVersion implements storage.IVersionStore. Pragma statements cannot carry
// bind parameters, so the value is formatted in.
func (a *adapterImpl) SetVersion(ctx context.Context, version uint64) error {
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return a.fail(err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// matchClause translates a match into a WHERE clause (with leading space)
// and its bind arguments. Prefix matching compares the leading substring so
// no LIKE wildcard escaping is needed; sqlite measures the prefix length
// itself since substr and length count characters, not bytes.
func matchClause(match storage.Match) (string, []interface{}) {
	switch {
	case match.Key != "":
		return " WHERE key = ?", []interface{}{match.Key}
	case match.Prefix != "":
		return " WHERE substr(key, 1, length(?)) = ?", []interface{}{match.Prefix, match.Prefix}
	default:
		return "", nil
	}
}

// encode serializes data for the BLOB column. A codec rejection means the
// data shape is incompatible with the backend, not that the backend failed.
func (a *adapterImpl) encode(data interface{}) ([]byte, error) {
	doc, err := storage.AsDocument(a.name, data)
	if err != nil {
		return nil, err
	}
	blob, err := a.codec.Encode(doc)
	if err != nil {
		return nil, &storage.Error{
			Code:    storage.RetCUnsupportedData,
			Adapter: a.name,
			Msg:     "document not encodable",
			Err:     err,
		}
	}
	return blob, nil
}

// fail wraps an opaque database error with the adapter identity.
func (a *adapterImpl) fail(err error) error {
	return storage.WrapAdapterErr(a.name, err)
}
