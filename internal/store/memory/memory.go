// Package memory provides an in-memory store implementation for tests and
// development.
package memory

import (
	"context"
	"sync"

	"github.com/arealink/arealink/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu        sync.RWMutex
	areas     map[string]*store.Area
	actions   map[string]*store.Action
	reactions map[string]*store.Reaction
	users     map[string]*store.User
	jobNames  map[string]*store.JobName // keyed by JobID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		areas:     make(map[string]*store.Area),
		actions:   make(map[string]*store.Action),
		reactions: make(map[string]*store.Reaction),
		users:     make(map[string]*store.User),
		jobNames:  make(map[string]*store.JobName),
	}
}

func (s *Store) Action(ctx context.Context, id string) (*store.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) Area(ctx context.Context, id string) (*store.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areaLocked(id)
}

// areaLocked assembles an area with its reactions. Caller holds mu.
func (s *Store) areaLocked(id string) (*store.Area, error) {
	a, ok := s.areas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	cp.Reactions = nil
	for _, r := range s.reactions {
		if r.AreaID == id {
			cp.Reactions = append(cp.Reactions, *r)
		}
	}
	return &cp, nil
}

func (s *Store) AreaByAction(ctx context.Context, actionID string) (*store.Area, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actions[actionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.areaLocked(a.AreaID)
}

func (s *Store) Reaction(ctx context.Context, id string) (*store.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) PutArea(ctx context.Context, area *store.Area) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *area
	cp.Reactions = nil
	s.areas[area.ID] = &cp
	return nil
}

func (s *Store) PutAction(ctx context.Context, action *store.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *action
	s.actions[action.ID] = &cp
	return nil
}

func (s *Store) PutReaction(ctx context.Context, reaction *store.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *reaction
	s.reactions[reaction.ID] = &cp
	return nil
}

func (s *Store) DeleteAction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

func (s *Store) DeleteReaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions, id)
	return nil
}

func (s *Store) SetAreaEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.areas[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Enabled = enabled
	return nil
}

func (s *Store) User(ctx context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) PutUser(ctx context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Store) ActiveByName(ctx context.Context, name string) (*store.JobName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.jobNames {
		if row.JobName == name && !row.Canceled {
			cp := *row
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ByJobID(ctx context.Context, jobID string) (*store.JobName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.jobNames[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *Store) Insert(ctx context.Context, row *store.JobName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.jobNames[row.JobID] = &cp
	return nil
}

func (s *Store) MarkCanceled(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.jobNames[jobID]
	if !ok {
		return store.ErrNotFound
	}
	row.Canceled = true
	return nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobNames, jobID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
