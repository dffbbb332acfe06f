package collection

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Create applies an optimistic entry under a provisional identifier, issues
// the insert, and on confirmation reindexes the entry under the confirmed
// identifier. On failure the provisional entry is removed and the error is
// recorded as the session's last error.
func (s *Session[E]) Create(ctx context.Context, draft E) (E, error) {
	var zero E

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrSessionClosed
	}
	provisionalID := s.provisionalIDs()
	provisional := draft.WithEntityID(provisionalID)
	s.store.Upsert(provisional)
	s.mutating++
	s.mu.Unlock()
	s.notify()

	confirmed, err := s.backend.Insert(ctx, provisional)

	s.mu.Lock()
	s.mutating--
	if s.closed {
		s.mu.Unlock()
		return zero, ErrSessionClosed
	}
	if err != nil {
		s.store.Remove(provisionalID)
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		return zero, err
	}
	s.store.ReplaceID(provisionalID, confirmed)
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
	return confirmed, nil
}

// Update merges a field patch into the stored entity optimistically and
// issues the update. On failure the collection is reloaded wholesale, since
// the authoritative value may have moved past the local previous-value
// snapshot.
func (s *Session[E]) Update(ctx context.Context, id string, patch FieldPatch[E]) error {
	if patch.Apply == nil {
		return fmt.Errorf("%w: patch apply function is required", ErrValidation)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	current, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.store.Upsert(patch.Apply(current))
	s.mutating++
	s.mu.Unlock()
	s.notify()

	err := s.backend.Update(ctx, id, patch.Fields)

	s.mu.Lock()
	s.mutating--
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		s.reloadAfterFailure(ctx)
		return err
	}
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// Delete removes the entry optimistically and issues the delete. A not-found
// answer from the backing store means the target is already gone and counts
// as success; any other failure reloads the collection.
func (s *Session[E]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.store.Remove(id)
	s.mutating++
	s.mu.Unlock()
	s.notify()

	err := s.backend.Delete(ctx, id)

	s.mu.Lock()
	s.mutating--
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if err != nil && !isNotFound(err) {
		s.lastErr = err
		s.mu.Unlock()
		s.notify()
		s.reloadAfterFailure(ctx)
		return err
	}
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

// reloadAfterFailure restores the authoritative collection state after a
// failed delete or field update. A reload failure is logged only; the
// mutation's own error stays recorded and the next refetch recovers.
func (s *Session[E]) reloadAfterFailure(ctx context.Context) {
	entities, err := s.backend.FetchAll(ctx)
	if err != nil {
		s.logger.Warn("collection reload after failed mutation did not complete",
			zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.store.ReplaceAll(entities)
	s.mu.Unlock()
	s.notify()
}
