// Package session keeps the checkout lifecycles the gateway hosts for its
// callers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/checkout"
	"github.com/diagnosis/staybook/pkg/logger"
)

var (
	ErrNotFound = errors.New("checkout session not found")
	ErrBusy     = errors.New("checkout session is submitting")
)

type entry struct {
	owner     string
	lifecycle *checkout.Lifecycle
	expiresAt time.Time
}

// Store maps session ids to lifecycles. A session is visible only to the
// principal that opened it and expires after ttl without access.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Store) Add(owner string, l *checkout.Lifecycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[l.ID()] = &entry{owner: owner, lifecycle: l, expiresAt: s.now().Add(s.ttl)}
}

// Get returns the session and extends its expiry. Sessions of other owners
// are reported as missing.
func (s *Store) Get(owner, id string) (*checkout.Lifecycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || e.owner != owner || !s.now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	e.expiresAt = s.now().Add(s.ttl)
	return e.lifecycle, nil
}

// Remove abandons a session. A session with a pending submission stays.
func (s *Store) Remove(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok || e.owner != owner {
		return ErrNotFound
	}
	if e.lifecycle.Status() == checkout.StatusSubmitting {
		return ErrBusy
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and reports how many were removed. Sessions
// still submitting are kept until the attempt settles.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.Before(e.expiresAt) || e.lifecycle.Status() == checkout.StatusSubmitting {
			continue
		}
		delete(s.sessions, id)
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Info("Expired checkout sessions removed", "count", n)
			}
		}
	}
}
