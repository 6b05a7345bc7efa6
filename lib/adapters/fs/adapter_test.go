package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polystore/polystore/lib/codec"
	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/storagetest"
)

func newTestAdapter(t *testing.T) storage.IAdapter {
	t.Helper()
	adapter, err := New(&Options{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return adapter
}

func TestFSAdapter(t *testing.T) {
	storagetest.RunAdapterTests(t, "FS", newTestAdapter)
}

func TestOptionsValidation(t *testing.T) {
	if _, err := New(&Options{}); storage.CodeOf(err) != storage.RetCUnsupportedData {
		t.Errorf("expected UnsupportedData for missing root, got %v", err)
	}
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil options")
	}
}

func TestKeyEscapingRoot(t *testing.T) {
	adapter := newTestAdapter(t)
	defer adapter.Close()

	ctx := context.Background()
	for _, key := range []string{"../escape", "a/../../b", "/absolute", "trailing/"} {
		_, err := adapter.Create(ctx, key, map[string]interface{}{"v": 1.0})
		if storage.CodeOf(err) != storage.RetCUnsupportedData {
			t.Errorf("expected UnsupportedData for key %q, got %v", key, err)
		}
	}
}

func TestGOBCodecRoundTrip(t *testing.T) {
	adapter, err := New(&Options{Root: t.TempDir(), Codec: codec.NewGOBCodec()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer adapter.Close()

	ctx := context.Background()
	if _, err := adapter.Create(ctx, "user/1", map[string]interface{}{"name": "Ann"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	record, err := adapter.FindOne(ctx, storage.Match{Key: "user/1"})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if record == nil || record.Data.(map[string]interface{})["name"] != "Ann" {
		t.Errorf("unexpected record: %#v", record)
	}
}

// Creating a record is one logical mutation: the watcher must deliver a
// single create event carrying the full document, and no update event for a
// record that was only ever created.
func TestCreateEmitsSingleCompleteEvent(t *testing.T) {
	adapter := newTestAdapter(t)
	defer adapter.Close()

	creates := make(chan storage.Event, 4)
	updates := make(chan storage.Event, 4)
	if err := adapter.Subscribe(storage.OpCreate, func(ev storage.Event) {
		creates <- ev
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := adapter.Subscribe(storage.OpUpdateOne, func(ev storage.Event) {
		updates <- ev
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := adapter.Create(context.Background(), "user/1", map[string]interface{}{"name": "Ann"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case ev := <-creates:
		if ev.Key != "user/1" {
			t.Errorf("expected create event for key user/1, got %s", ev.Key)
		}
		doc, ok := ev.Data.(map[string]interface{})
		if !ok || doc["name"] != "Ann" {
			t.Errorf("create event must carry the full document, got %#v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create notification")
	}

	select {
	case ev := <-updates:
		t.Errorf("unexpected update event for a created record: %+v", ev)
	case <-time.After(250 * time.Millisecond):
	}
}

// External writes to the root directory must surface as change
// notifications: this is the two-way sync path for backends with native
// signaling.
func TestExternalChangeNotification(t *testing.T) {
	root := t.TempDir()
	adapter, err := New(&Options{Root: root})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer adapter.Close()

	events := make(chan storage.Event, 4)
	if err := adapter.Subscribe(storage.OpCreate, func(ev storage.Event) {
		events <- ev
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// simulate another process dropping a record file into the root
	if err := os.WriteFile(filepath.Join(root, "external.json"), []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Key != "external" {
			t.Errorf("expected event for key external, got %s", ev.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for external change notification")
	}
}
