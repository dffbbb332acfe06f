package collection

import "sync"

// Store is an ordered id-to-entity mapping for one collection. Every mutation
// runs as a single critical section, so readers never observe a half-applied
// change and per-id operations are linearized in lock-acquisition order.
type Store[E Entity[E]] struct {
	mu    sync.RWMutex
	order []string
	items map[string]E
}

// NewStore returns an empty store.
func NewStore[E Entity[E]]() *Store[E] {
	return &Store[E]{
		items: make(map[string]E),
	}
}

// Snapshot returns a copy of the current contents in store order. The slice
// is owned by the caller and is not affected by later mutations.
func (s *Store[E]) Snapshot() []E {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entities := make([]E, 0, len(s.order))
	for _, id := range s.order {
		entities = append(entities, s.items[id])
	}
	return entities
}

// Get returns the entity stored under the identifier, if any.
func (s *Store[E]) Get(id string) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.items[id]
	return entity, ok
}

// Len returns the number of stored entities.
func (s *Store[E]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Upsert inserts the entity if its identifier is absent and otherwise
// replaces the stored value in place, preserving its position. Entities with
// an empty identifier are ignored.
func (s *Store[E]) Upsert(entity E) {
	id := entity.EntityID()
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(id, entity)
}

// Remove deletes the entity stored under the identifier. Removing an absent
// identifier is a no-op.
func (s *Store[E]) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// ReplaceID atomically reindexes a provisional entry under its confirmed
// identifier, keeping the entry's position. If the confirmed identifier is
// already present (a pushed insert won the race) the provisional entry is
// dropped and the existing slot takes the confirmed value.
func (s *Store[E]) ReplaceID(oldID string, entity E) {
	newID := entity.EntityID()
	if newID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if newID == oldID {
		s.upsertLocked(newID, entity)
		return
	}
	if _, exists := s.items[newID]; exists {
		s.removeLocked(oldID)
		s.items[newID] = entity
		return
	}
	if _, exists := s.items[oldID]; exists {
		for i, id := range s.order {
			if id == oldID {
				s.order[i] = newID
				break
			}
		}
		delete(s.items, oldID)
		s.items[newID] = entity
		return
	}
	s.upsertLocked(newID, entity)
}

// ReplaceAll swaps the full contents for the provided entities, adopting
// their order. Duplicate identifiers keep the first occurrence. Used by the
// initial fetch, refetch, and the post-failure reload.
func (s *Store[E]) ReplaceAll(entities []E) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.items = make(map[string]E, len(entities))
	for _, entity := range entities {
		id := entity.EntityID()
		if id == "" {
			continue
		}
		if _, exists := s.items[id]; exists {
			continue
		}
		s.order = append(s.order, id)
		s.items[id] = entity
	}
}

func (s *Store[E]) upsertLocked(id string, entity E) {
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = entity
}

func (s *Store[E]) removeLocked(id string) {
	if _, exists := s.items[id]; !exists {
		return
	}
	delete(s.items, id)
	for i, storedID := range s.order {
		if storedID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
