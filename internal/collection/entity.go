package collection

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Entity is the constraint every cached record type satisfies. WithEntityID
// returns a copy so callers never mutate a stored value in place.
type Entity[E any] interface {
	EntityID() string
	WithEntityID(id string) E
}

const provisionalIDPrefix = "tmp-"

// NewProvisionalID returns a locally generated placeholder identifier. The
// prefix keeps it disjoint from any identifier the backing store issues.
func NewProvisionalID() string {
	return provisionalIDPrefix + uuid.NewString()
}

// IsProvisionalID reports whether the identifier was generated locally and is
// still awaiting confirmation.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalIDPrefix)
}

// ChangeKind enumerates the change event variants pushed by a backing store.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent describes one committed change pushed over a subscription.
// Entity is the full confirmed value for inserts and updates and the zero
// value for deletes.
type ChangeEvent[E any] struct {
	Kind     ChangeKind
	EntityID string
	Entity   E
}

// FieldPatch carries one field-level update: the wire representation sent to
// the backing store and the local merge applied optimistically.
type FieldPatch[E any] struct {
	Fields map[string]any
	Apply  func(E) E
}

// Backend is the narrow contract a session requires from the backing store.
// Implementations bind a collection key and an optional parent filter at
// construction time. Subscribe must close the returned channel once the stop
// function is called; events on one subscription arrive in commit order.
type Backend[E Entity[E]] interface {
	FetchAll(ctx context.Context) ([]E, error)
	Insert(ctx context.Context, draft E) (E, error)
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	Subscribe(ctx context.Context) (<-chan ChangeEvent[E], func(), error)
}
