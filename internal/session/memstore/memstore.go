// Package memstore provides an in-memory implementation of session.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/elliotchance/pie/v2"

	"github.com/linnemanlabs/lifeline/internal/session"
)

// Store holds sessions in memory. Suitable for dev/testing and the CLI.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{sessions: make(map[string]*session.Session)}
}

// Get retrieves a session by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*session.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Put stores a copy of the session.
func (s *Store) Put(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// ListActive returns summaries of non-terminal sessions, oldest first.
func (s *Store) ListActive(_ context.Context) ([]session.Summary, error) {
	s.mu.RLock()
	out := make([]session.Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.State.Terminal() {
			out = append(out, sess.Summarize())
		}
	}
	s.mu.RUnlock()

	return pie.SortUsing(out, func(a, b session.Summary) bool {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}), nil
}
