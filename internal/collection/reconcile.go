package collection

import (
	"fmt"

	"go.uber.org/zap"
)

// consumeEvents drains the subscription until the backend closes the channel.
// Each delivery is applied as one discrete store operation; malformed events
// are dropped with a warning and the next fetch is the recovery path.
func (s *Session[E]) consumeEvents(events <-chan ChangeEvent[E]) {
	for event := range events {
		s.applyEvent(event)
	}
}

func (s *Session[E]) applyEvent(event ChangeEvent[E]) {
	if event.EntityID == "" {
		s.dropEvent(event, "missing entity id")
		return
	}

	switch event.Kind {
	case ChangeInserted, ChangeUpdated:
		// Last-write-wins by arrival order: a pushed value replaces whatever
		// is stored under the id, including a concurrent local field update.
		if event.Entity.EntityID() != event.EntityID {
			s.dropEvent(event, "entity id mismatch")
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.store.Upsert(event.Entity)
		s.mu.Unlock()
		s.notify()
	case ChangeDeleted:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.store.Remove(event.EntityID)
		s.mu.Unlock()
		s.notify()
	default:
		s.dropEvent(event, "unknown change kind")
	}
}

func (s *Session[E]) dropEvent(event ChangeEvent[E], reason string) {
	s.logger.Warn("change event dropped",
		zap.Error(fmt.Errorf("%w: %s", ErrReconciliation, reason)),
		zap.String("kind", string(event.Kind)),
		zap.String("entity_id", event.EntityID))
}
