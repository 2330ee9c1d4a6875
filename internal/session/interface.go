package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict means the document changed between the read and the
	// replace. Callers re-read on the next pass instead of overwriting.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrInvalidSession wraps every validation failure so the API layer can
	// tell a bad request from a server fault.
	ErrInvalidSession = errors.New("invalid session")
)

// Store is the session document store. One document per session, keyed by
// session id, read-then-replace semantics guarded by an optimistic version.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	ListByInstanceStatus(ctx context.Context, status InstanceStatus) ([]*Session, error)
	// Replace overwrites the whole document if the stored version still
	// matches s.Version, then increments s.Version. Returns
	// ErrVersionConflict otherwise.
	Replace(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
