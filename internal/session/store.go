package session

import "context"

// Store is the persistence interface for sessions. Get returns a copy the
// caller owns; Put replaces the stored session with a copy of s.
type Store interface {
	Get(ctx context.Context, id string) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	// ListActive returns summaries of sessions not in a terminal state,
	// oldest first.
	ListActive(ctx context.Context) ([]Summary, error)
}
