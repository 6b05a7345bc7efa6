package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/polystore/polystore/lib/adapters/memory"
	"github.com/polystore/polystore/lib/adapters/sqlite"
	"github.com/polystore/polystore/lib/storage"
	"github.com/polystore/polystore/lib/storage/dispatcher"
)

func newMemoryTarget(t *testing.T) dispatcher.IStorage {
	t.Helper()
	s, err := dispatcher.New(memory.New(nil), nil)
	if err != nil {
		t.Fatalf("dispatcher.New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// writeStep returns a step creating one record, so tests can verify which
// steps actually ran against the target.
func writeStep(name, key string) Step {
	return Step{
		Name: name,
		Apply: func(ctx context.Context, s dispatcher.IStorage) error {
			_, err := s.Create(ctx, key, map[string]interface{}{"step": name})
			return err
		},
	}
}

func TestRunAppliesAllStepsInOrder(t *testing.T) {
	target := newMemoryTarget(t)
	runner := NewRunner(target, nil)
	ctx := context.Background()

	res, err := runner.Run(ctx, []Step{
		writeStep("init", "schema/a"),
		writeStep("extend", "schema/b"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.State != StateCompleted || res.Applied != 2 || res.StartVersion != 0 || res.Version != 2 || res.HaltedStep != -1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if runner.State() != StateCompleted {
		t.Errorf("unexpected runner state: %s", runner.State())
	}

	if v, err := runner.Version(ctx); err != nil || v != 2 {
		t.Errorf("expected persisted version 2, got %d (%v)", v, err)
	}
	for _, key := range []string{"schema/a", "schema/b"} {
		rec, err := target.FindOne(ctx, storage.Match{Key: key})
		if err != nil || rec == nil {
			t.Errorf("step record %s missing (%v)", key, err)
		}
	}
}

func TestHaltDoesNotAdvanceAndResumeRetries(t *testing.T) {
	target := newMemoryTarget(t)
	runner := NewRunner(target, nil)
	ctx := context.Background()

	firstRuns, secondRuns := 0, 0
	broken := true
	steps := []Step{
		{Name: "ok", Apply: func(ctx context.Context, s dispatcher.IStorage) error {
			firstRuns++
			return nil
		}},
		{Name: "flaky", Apply: func(ctx context.Context, s dispatcher.IStorage) error {
			secondRuns++
			if broken {
				return errors.New("backend hiccup")
			}
			return nil
		}},
	}

	res, err := runner.Run(ctx, steps)
	if storage.CodeOf(err) != storage.RetCMigrationHalted {
		t.Fatalf("expected MigrationHalted, got %v", err)
	}
	if res.State != StateHalted || res.HaltedStep != 1 || res.Applied != 1 || res.Version != 1 {
		t.Errorf("unexpected halt result: %+v", res)
	}
	if !errors.Is(err, res.Err) {
		t.Error("halt error does not carry the step cause")
	}
	if v, _ := runner.Version(ctx); v != 1 {
		t.Errorf("marker advanced past the last successful step: %d", v)
	}

	// a retried run resumes at the failed step, never re-executing completed
	// ones
	broken = false
	res, err = runner.Run(ctx, steps)
	if err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}
	if res.State != StateCompleted || res.StartVersion != 1 || res.Applied != 1 || res.Version != 2 {
		t.Errorf("unexpected resume result: %+v", res)
	}
	if firstRuns != 1 {
		t.Errorf("completed step re-executed, ran %d times", firstRuns)
	}
	if secondRuns != 2 {
		t.Errorf("failed step should run twice in total, ran %d times", secondRuns)
	}
}

func TestMarkerAheadOfStepsIsFullyApplied(t *testing.T) {
	target := newMemoryTarget(t)
	runner := NewRunner(target, nil)
	ctx := context.Background()

	all := []Step{
		writeStep("one", "s/1"),
		writeStep("two", "s/2"),
	}
	if _, err := runner.Run(ctx, all); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// rerun with a shorter step list than the marker records
	res, err := runner.Run(ctx, all[:1])
	if err != nil {
		t.Fatalf("Run with shorter list failed: %v", err)
	}
	if res.State != StateCompleted || res.Applied != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if v, _ := runner.Version(ctx); v != 2 {
		t.Errorf("marker was decremented to %d", v)
	}
}

func TestConcurrentRunRejected(t *testing.T) {
	target := newMemoryTarget(t)
	runner := NewRunner(target, nil)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := []Step{{
		Name: "slow",
		Apply: func(ctx context.Context, s dispatcher.IStorage) error {
			close(entered)
			<-release
			return nil
		},
	}}

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, blocking)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	if _, err := runner.Run(ctx, blocking); storage.CodeOf(err) != storage.RetCConcurrentMigration {
		t.Errorf("expected ConcurrentMigrationRejected, got %v", err)
	}
	if v, _ := runner.Version(ctx); v != 0 {
		t.Errorf("rejected run touched the marker: %d", v)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if v, _ := runner.Version(ctx); v != 1 {
		t.Errorf("expected version 1 after the first run, got %d", v)
	}
}

// Backends without native versioning get a tracking record; it must live
// under the configured key and survive independent reads.
func TestFallbackTrackingRecord(t *testing.T) {
	target := newMemoryTarget(t)
	runner := NewRunner(target, &Options{VersionKey: "meta/version"})
	ctx := context.Background()

	if _, err := runner.Run(ctx, []Step{writeStep("init", "s/1")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, err := target.FindOne(ctx, storage.Match{Key: "meta/version"})
	if err != nil || rec == nil {
		t.Fatalf("tracking record missing (%v)", err)
	}
	doc := rec.Data.(map[string]interface{})
	if v, err := toUint64(doc["version"]); err != nil || v != 1 {
		t.Errorf("unexpected tracking record version: %v (%v)", doc["version"], err)
	}
}

// An adapter with native versioning keeps the marker out of the record
// namespace entirely.
func TestNativeVersionStorePreferred(t *testing.T) {
	adapter, err := sqlite.New(&sqlite.Options{Path: filepath.Join(t.TempDir(), "migrate.db")})
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	target, err := dispatcher.New(adapter, nil)
	if err != nil {
		t.Fatalf("dispatcher.New failed: %v", err)
	}
	defer target.Close()

	runner := NewRunner(target, nil)
	ctx := context.Background()

	if _, err := runner.Run(ctx, []Step{writeStep("init", "s/1")}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if v, err := target.Versioner().Version(ctx); err != nil || v != 1 {
		t.Errorf("expected native version 1, got %d (%v)", v, err)
	}
	rec, err := target.FindOne(ctx, storage.Match{Key: DefaultVersionKey})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if rec != nil {
		t.Error("native-versioned target must not carry a tracking record")
	}
}
