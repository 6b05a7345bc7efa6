package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/storagetest"
)

func newTestAdapter(t *testing.T) storage.IAdapter {
	t.Helper()
	adapter, err := New(&Options{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return adapter
}

func TestSQLiteAdapter(t *testing.T) {
	storagetest.RunAdapterTests(t, "SQLite", newTestAdapter)
}

func TestOptionsValidation(t *testing.T) {
	if _, err := New(&Options{}); storage.CodeOf(err) != storage.RetCUnsupportedData {
		t.Errorf("expected UnsupportedData for missing path, got %v", err)
	}
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil options")
	}
}

// The schema version must survive reopening the database file: it lives in
// the sqlite header, not in the record table.
func TestNativeVersionPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "versioned.db")
	ctx := context.Background()

	adapter, err := New(&Options{Path: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	versions, ok := adapter.(storage.IVersionStore)
	if !ok {
		t.Fatal("adapter does not implement IVersionStore")
	}

	if v, err := versions.Version(ctx); err != nil || v != 0 {
		t.Fatalf("expected fresh version 0, got %d (%v)", v, err)
	}
	if err := versions.SetVersion(ctx, 3); err != nil {
		t.Fatalf("SetVersion failed: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(&Options{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if v, err := reopened.(storage.IVersionStore).Version(ctx); err != nil || v != 3 {
		t.Errorf("expected persisted version 3, got %d (%v)", v, err)
	}
}

// Records must survive reopening the database file.
func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	adapter, err := New(&Options{Path: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := adapter.Create(ctx, "user/1", map[string]interface{}{"name": "Ann"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(&Options{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	record, err := reopened.FindOne(ctx, storage.Match{Key: "user/1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if record == nil || record.Data.(map[string]interface{})["name"] != "Ann" {
		t.Errorf("unexpected record after reopen: %#v", record)
	}
}
