package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State names the lifecycle phase of a query session.
type State string

const (
	// StateIdle is the phase before Open has been called.
	StateIdle State = "idle"
	// StateLoading covers the initial fetch and any refetch in flight. Data
	// already held remains visible.
	StateLoading State = "loading"
	// StateReady means the last fetch succeeded.
	StateReady State = "ready"
	// StateErrored means the last fetch failed. Data already held remains
	// visible; a refetch is the recovery path.
	StateErrored State = "errored"
)

var (
	errMissingBackend = errors.New("collection: backend is required")
	noOpLogger        = zap.NewNop()
)

const watchBufferSize = 16

// Snapshot is the read contract a session exposes to callers: the data copy
// plus the session flags, captured atomically.
type Snapshot[E Entity[E]] struct {
	Data     []E
	State    State
	Mutating bool
	Err      error
}

// SessionConfig configures a query session for one collection.
type SessionConfig[E Entity[E]] struct {
	Backend        Backend[E]
	Logger         *zap.Logger
	Clock          func() time.Time
	ProvisionalIDs func() string
}

// Session owns one entity store and one change-feed subscription for a
// collection, and is the only way callers read or mutate that collection.
type Session[E Entity[E]] struct {
	backend        Backend[E]
	logger         *zap.Logger
	clock          func() time.Time
	provisionalIDs func() string

	mu          sync.Mutex
	store       *Store[E]
	state       State
	lastErr     error
	mutating    int
	closed      bool
	unsubscribe func()

	watchers      map[int64]chan Snapshot[E]
	nextWatcherID int64
}

// NewSession constructs an idle session. Open starts the fetch and the feed
// subscription.
func NewSession[E Entity[E]](cfg SessionConfig[E]) (*Session[E], error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	provisionalIDs := cfg.ProvisionalIDs
	if provisionalIDs == nil {
		provisionalIDs = NewProvisionalID
	}
	return &Session[E]{
		backend:        cfg.Backend,
		logger:         logger,
		clock:          clock,
		provisionalIDs: provisionalIDs,
		store:          NewStore[E](),
		state:          StateIdle,
		watchers:       make(map[int64]chan Snapshot[E]),
	}, nil
}

// Open subscribes to the change feed and performs the initial fetch. On fetch
// failure the session lands in StateErrored with any previously held data
// intact; Refetch recovers.
func (s *Session[E]) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.unsubscribe == nil {
		events, stop, err := s.backend.Subscribe(ctx)
		if err != nil {
			s.state = StateErrored
			s.lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			lastErr := s.lastErr
			s.mu.Unlock()
			s.notify()
			return lastErr
		}
		s.unsubscribe = stop
		go s.consumeEvents(events)
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	return s.fetchInto(ctx)
}

// Refetch re-runs the full fetch. Held data stays visible while it is in
// flight.
func (s *Session[E]) Refetch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	return s.fetchInto(ctx)
}

// Close releases the subscription and freezes the store. Safe to call more
// than once; mutation confirmations resolving afterwards become no-ops.
func (s *Session[E]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.watchers = make(map[int64]chan Snapshot[E])
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Snapshot returns the current data copy and session flags.
func (s *Session[E]) Snapshot() Snapshot[E] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Watch registers an observer for session transitions. Each state or data
// change delivers a fresh snapshot; slow observers miss intermediate
// snapshots rather than blocking the session. The current snapshot is
// delivered immediately.
func (s *Session[E]) Watch(ctx context.Context) (<-chan Snapshot[E], func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch := make(chan Snapshot[E])
		close(ch)
		return ch, func() {}
	}
	s.nextWatcherID++
	watcherID := s.nextWatcherID
	stream := make(chan Snapshot[E], watchBufferSize)
	s.watchers[watcherID] = stream
	stream <- s.snapshotLocked()
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		delete(s.watchers, watcherID)
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (s *Session[E]) fetchInto(ctx context.Context) error {
	entities, err := s.backend.FetchAll(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		s.state = StateErrored
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.store.ReplaceAll(entities)
	s.state = StateReady
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session[E]) snapshotLocked() Snapshot[E] {
	return Snapshot[E]{
		Data:     s.store.Snapshot(),
		State:    s.state,
		Mutating: s.mutating > 0,
		Err:      s.lastErr,
	}
}

func (s *Session[E]) notify() {
	s.mu.Lock()
	if len(s.watchers) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := s.snapshotLocked()
	streams := make([]chan Snapshot[E], 0, len(s.watchers))
	for _, stream := range s.watchers {
		streams = append(streams, stream)
	}
	s.mu.Unlock()

	for _, stream := range streams {
		select {
		case stream <- snapshot:
		default:
		}
	}
}
