// Package memory is an in-process state.Repository.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

var _ state.Repository = (*Store)(nil)

// Store keeps records in a map. Records are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	records map[string]*state.Record
	closed  bool
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*state.Record)}
}

func (s *Store) SaveState(_ context.Context, r *state.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return state.ErrClosed
	}
	c := clone(r)
	now := time.Now().UTC()
	if prev, ok := s.records[r.StoreID.String()]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.records[r.StoreID.String()] = c
	return nil
}

func (s *Store) LoadState(_ context.Context, storeID id.StoreID) (*state.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.records[storeID.String()]; ok {
		return clone(r), nil
	}
	return nil, state.ErrNotFound
}

func (s *Store) DeleteState(_ context.Context, storeID id.StoreID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[storeID.String()]; !ok {
		return state.ErrNotFound
	}
	delete(s.records, storeID.String())
	return nil
}

func (s *Store) ListStates(_ context.Context, opts state.ListOpts) ([]*state.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*state.Record
	for _, r := range s.records {
		if opts.Kind != "" && r.Kind != opts.Kind {
			continue
		}
		out = append(out, clone(r))
	}
	slices.SortFunc(out, func(a, b *state.Record) int {
		return strings.Compare(a.StoreID.String(), b.StoreID.String())
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping fails once the store is closed.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return state.ErrClosed
	}
	return nil
}

// Close rejects further saves. Records stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clone(r *state.Record) *state.Record {
	c := *r
	c.Data = slices.Clone(r.Data)
	return &c
}
