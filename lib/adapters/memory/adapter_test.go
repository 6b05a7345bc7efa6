package memory

import (
	"context"
	"testing"

	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/storagetest"
)

func TestMemoryAdapter(t *testing.T) {
	storagetest.RunAdapterTests(t, "Memory", func(t *testing.T) storage.IAdapter {
		return New(nil)
	})
}

// A duplicate key is reported per item in a batch but is never an error for
// the single create.
func TestDuplicateKeyReporting(t *testing.T) {
	adapter := New(nil)
	defer adapter.Close()

	ctx := context.Background()

	if _, err := adapter.Create(ctx, "dup", map[string]interface{}{"v": 1.0}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	created, err := adapter.Create(ctx, "dup", map[string]interface{}{"v": 2.0})
	if err != nil {
		t.Fatalf("duplicate Create must not fail: %v", err)
	}
	if created {
		t.Error("expected Create to report false for an existing key")
	}

	results, err := adapter.CreateMany(ctx, []storage.Record{
		{Key: "dup", Data: map[string]interface{}{"v": 3.0}},
		{Key: "fresh", Data: map[string]interface{}{"v": 4.0}},
	})
	if err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}
	if results[0].OK() || storage.CodeOf(results[0].Err) != storage.RetCAdapterFailure {
		t.Errorf("expected a per-item failure for the duplicate, got %v", results[0].Err)
	}
	if !results[1].OK() {
		t.Errorf("expected the fresh key to succeed, got %v", results[1].Err)
	}
}

func TestStoredDataIsNotAliased(t *testing.T) {
	adapter := New(nil)
	defer adapter.Close()

	ctx := context.Background()
	original := map[string]interface{}{"name": "Ann"}

	if _, err := adapter.Create(ctx, "user/1", original); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// mutating the caller's map must not change stored state
	original["name"] = "Mallory"

	record, err := adapter.FindOne(ctx, storage.Match{Key: "user/1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if record.Data.(map[string]interface{})["name"] != "Ann" {
		t.Error("stored document aliased the caller's map")
	}

	// mutating a returned map must not change stored state either
	record.Data.(map[string]interface{})["name"] = "Eve"

	again, err := adapter.FindOne(ctx, storage.Match{Key: "user/1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if again.Data.(map[string]interface{})["name"] != "Ann" {
		t.Error("returned document aliased stored state")
	}
}
