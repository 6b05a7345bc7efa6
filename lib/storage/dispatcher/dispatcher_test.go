package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/polystore/polystore/lib/adapters/memory"
	"github.com/polystore/polystore/lib/storage"
)

// --------------------------------------------------------------------------
// Spy Adapter
// --------------------------------------------------------------------------

// spyAdapter records which methods were invoked so tests can prove that
// rejected operations never reach the backend.
type spyAdapter struct {
	caps   storage.Operation
	calls  map[string]int
	fail   error
	closed int
}

func newSpy(caps storage.Operation) *spyAdapter {
	return &spyAdapter{caps: caps, calls: map[string]int{}}
}

func (s *spyAdapter) Info() storage.AdapterInfo {
	return storage.AdapterInfo{Name: "spy", Impl: "spy", Capabilities: s.caps}
}

func (s *spyAdapter) Create(context.Context, string, interface{}) (bool, error) {
	s.calls["create"]++
	return s.fail == nil, s.fail
}

func (s *spyAdapter) CreateMany(context.Context, []storage.Record) ([]storage.BatchResult, error) {
	s.calls["createMany"]++
	return nil, s.fail
}

func (s *spyAdapter) Find(context.Context, storage.Filter) ([]storage.Record, error) {
	s.calls["find"]++
	return nil, s.fail
}

func (s *spyAdapter) FindOne(context.Context, storage.Filter) (*storage.Record, error) {
	s.calls["findOne"]++
	return nil, s.fail
}

func (s *spyAdapter) Delete(context.Context, storage.Filter) (bool, error) {
	s.calls["delete"]++
	return false, s.fail
}

func (s *spyAdapter) DeleteMany(context.Context, storage.Filter) ([]storage.BatchResult, error) {
	s.calls["deleteMany"]++
	return nil, s.fail
}

func (s *spyAdapter) UpdateOne(context.Context, storage.Filter, interface{}) (bool, error) {
	s.calls["updateOne"]++
	return false, s.fail
}

func (s *spyAdapter) Subscribe(storage.Operation, storage.NotifyFunc) error {
	s.calls["subscribe"]++
	return nil
}

func (s *spyAdapter) Unsubscribe(storage.Operation) error {
	s.calls["unsubscribe"]++
	return nil
}

func (s *spyAdapter) Close() error {
	s.closed++
	return nil
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestUnsupportedOperationNeverReachesAdapter(t *testing.T) {
	spy := newSpy(storage.OpCreate | storage.OpFind)
	s, err := New(spy, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()

	if _, err := s.CreateMany(ctx, []storage.Record{{Key: "a"}}); storage.CodeOf(err) != storage.RetCUnsupportedOperation {
		t.Errorf("expected UnsupportedOperation, got %v", err)
	}
	if _, err := s.Delete(ctx, nil); storage.CodeOf(err) != storage.RetCUnsupportedOperation {
		t.Errorf("expected UnsupportedOperation, got %v", err)
	}
	if err := s.On(storage.OpCreate, func(storage.Event) {}); storage.CodeOf(err) != storage.RetCUnsupportedOperation {
		t.Errorf("expected UnsupportedOperation, got %v", err)
	}

	for method, n := range spy.calls {
		t.Errorf("adapter method %s was reached %d times", method, n)
	}
}

func TestSupportedOperationForwards(t *testing.T) {
	spy := newSpy(storage.OpCreate | storage.OpFind)
	s, err := New(spy, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()

	created, err := s.Create(ctx, "user/1", map[string]interface{}{"v": 1})
	if err != nil || !created {
		t.Fatalf("Create: got (%v, %v)", created, err)
	}
	if _, err := s.Find(ctx, nil); err != nil {
		t.Fatalf("Find failed: %v", err)
	}

	if spy.calls["create"] != 1 || spy.calls["find"] != 1 {
		t.Errorf("unexpected call counts: %v", spy.calls)
	}
}

func TestEmptyKeyRejectedBeforeAdapter(t *testing.T) {
	spy := newSpy(storage.OpCreate)
	s, _ := New(spy, nil)

	if _, err := s.Create(context.Background(), "", map[string]interface{}{}); storage.CodeOf(err) != storage.RetCUnsupportedData {
		t.Errorf("expected UnsupportedData, got %v", err)
	}
	if spy.calls["create"] != 0 {
		t.Error("empty-key create reached the adapter")
	}
}

func TestAdapterFailureAttribution(t *testing.T) {
	spy := newSpy(storage.OpFind)
	spy.fail = errors.New("disk on fire")
	s, _ := New(spy, nil)

	_, err := s.Find(context.Background(), nil)

	var typed *storage.Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if typed.Code != storage.RetCAdapterFailure || typed.Adapter != "spy" {
		t.Errorf("unexpected error attribution: %+v", typed)
	}
	if !errors.Is(err, spy.fail) {
		t.Error("cause is not preserved through wrapping")
	}
}

func TestTypedAdapterErrorsPassThrough(t *testing.T) {
	spy := newSpy(storage.OpFind)
	spy.fail = storage.NewError(storage.RetCUnsupportedData, "bad filter")
	s, _ := New(spy, nil)

	if _, err := s.Find(context.Background(), 42); storage.CodeOf(err) != storage.RetCUnsupportedData {
		t.Errorf("expected the adapter's UnsupportedData to pass through, got %v", err)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	spy := newSpy(storage.OpCreate)
	s, _ := New(spy, nil)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if spy.closed != 1 {
		t.Errorf("adapter closed %d times, expected once", spy.closed)
	}

	if _, err := s.Create(context.Background(), "a", map[string]interface{}{}); storage.CodeOf(err) != storage.RetCAdapterFailure {
		t.Errorf("expected failure after close, got %v", err)
	}
	if spy.calls["create"] != 0 {
		t.Error("create reached the adapter after close")
	}
}

func TestVersionerExposure(t *testing.T) {
	s, _ := New(newSpy(storage.OpCreate), nil)
	if s.Versioner() != nil {
		t.Error("expected nil versioner for a backend without native versions")
	}
}

func TestNilAdapterRejected(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil adapter")
	}
}

// End-to-end reactivity through a real adapter: listeners registered on the
// dispatcher observe mutations performed through the same dispatcher.
func TestListenerObservesMutations(t *testing.T) {
	s, err := New(memory.New(nil), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	var seen []storage.Event
	listener := func(ev storage.Event) { seen = append(seen, ev) }

	if err := s.On(storage.OpCreate, listener); err != nil {
		t.Fatalf("On failed: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Create(ctx, "user/1", map[string]interface{}{"v": 1}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if len(seen) != 1 || seen[0].Key != "user/1" || seen[0].Op != storage.OpCreate {
		t.Fatalf("unexpected events: %#v", seen)
	}

	if err := s.Off(storage.OpCreate, listener); err != nil {
		t.Fatalf("Off failed: %v", err)
	}
	if _, err := s.Create(ctx, "user/2", map[string]interface{}{"v": 2}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("listener invoked after Off: %#v", seen)
	}
}
