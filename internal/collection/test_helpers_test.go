package collection

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testRecord struct {
	ID    string
	Label string
	Price float64
}

func (r testRecord) EntityID() string {
	return r.ID
}

func (r testRecord) WithEntityID(id string) testRecord {
	r.ID = id
	return r
}

// fakeBackend implements Backend[testRecord] with pluggable behavior per
// operation. Events pushed through Emit reach the session's reconciler.
type fakeBackend struct {
	mu       sync.Mutex
	fetchAll func(ctx context.Context) ([]testRecord, error)
	insert   func(ctx context.Context, draft testRecord) (testRecord, error)
	update   func(ctx context.Context, id string, fields map[string]any) error
	delete   func(ctx context.Context, id string) error
	events   chan ChangeEvent[testRecord]
	stopped  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events: make(chan ChangeEvent[testRecord], 32),
	}
}

func (b *fakeBackend) FetchAll(ctx context.Context) ([]testRecord, error) {
	if b.fetchAll == nil {
		return nil, nil
	}
	return b.fetchAll(ctx)
}

func (b *fakeBackend) Insert(ctx context.Context, draft testRecord) (testRecord, error) {
	if b.insert == nil {
		return draft, nil
	}
	return b.insert(ctx, draft)
}

func (b *fakeBackend) Update(ctx context.Context, id string, fields map[string]any) error {
	if b.update == nil {
		return nil
	}
	return b.update(ctx, id, fields)
}

func (b *fakeBackend) Delete(ctx context.Context, id string) error {
	if b.delete == nil {
		return nil
	}
	return b.delete(ctx, id)
}

func (b *fakeBackend) Subscribe(_ context.Context) (<-chan ChangeEvent[testRecord], func(), error) {
	stop := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.stopped {
			b.stopped = true
			close(b.events)
		}
	}
	return b.events, stop, nil
}

func (b *fakeBackend) Emit(t *testing.T, event ChangeEvent[testRecord]) {
	t.Helper()
	select {
	case b.events <- event:
	case <-time.After(time.Second):
		t.Fatal("timed out emitting change event")
	}
}

func mustSession(t *testing.T, backend Backend[testRecord]) *Session[testRecord] {
	t.Helper()
	session, err := NewSession(SessionConfig[testRecord]{Backend: backend})
	if err != nil {
		t.Fatalf("unexpected session error: %v", err)
	}
	return session
}

func mustOpen(t *testing.T, session *Session[testRecord]) {
	t.Helper()
	if err := session.Open(context.Background()); err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
}

// waitForSnapshot polls the session until the predicate holds, failing the
// test after a deadline. Needed because feed events apply asynchronously.
func waitForSnapshot(t *testing.T, session *Session[testRecord], predicate func(Snapshot[testRecord]) bool) Snapshot[testRecord] {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot := session.Snapshot()
		if predicate(snapshot) {
			return snapshot
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for snapshot condition, last snapshot: %#v", snapshot)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func snapshotIDs(snapshot Snapshot[testRecord]) []string {
	ids := make([]string, 0, len(snapshot.Data))
	for _, record := range snapshot.Data {
		ids = append(ids, record.ID)
	}
	return ids
}
