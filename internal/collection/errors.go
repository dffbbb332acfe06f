package collection

import "errors"

var (
	// ErrTransport indicates the backing store could not be reached or the
	// call failed before a definitive answer.
	ErrTransport = errors.New("collection: transport failure")
	// ErrValidation indicates the backing store rejected the submitted value.
	ErrValidation = errors.New("collection: validation rejected")
	// ErrNotFound indicates the mutation target no longer exists.
	ErrNotFound = errors.New("collection: entity not found")
	// ErrReconciliation indicates a pushed change event could not be applied.
	// The event is dropped without touching the store; the next fetch is the
	// recovery path.
	ErrReconciliation = errors.New("collection: reconciliation failed")
	// ErrSessionClosed indicates an operation was issued against a session
	// that has already been closed.
	ErrSessionClosed = errors.New("collection: session closed")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
