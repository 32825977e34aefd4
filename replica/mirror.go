// Package replica keeps copies of store contents up to date from store
// notifications.
//
// A Mirror is a store.Listener that rebuilds the observed store handle by
// handle. It can be attached directly or fed from another process through
// replica/redisfeed.
package replica

import (
	"slices"
	"sync"

	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/types"
)

// Mirror is a handle-indexed replica of one store. Notifications arrive on
// the goroutine mutating the store; reads are safe from any goroutine.
type Mirror struct {
	mu       sync.RWMutex
	entries  []store.ArticleView
	count    types.Fraction
	capacity types.Fraction
	attached bool
	valid    bool
	events   int64
	onChange func(store.Event)
}

var _ store.Listener = (*Mirror)(nil)

// Option configures a Mirror.
type Option func(*Mirror)

// WithOnChange registers fn, called after every applied event.
func WithOnChange(fn func(store.Event)) Option {
	return func(m *Mirror) { m.onChange = fn }
}

// NewMirror creates an empty, detached mirror.
func NewMirror(opts ...Option) *Mirror {
	m := &Mirror{count: types.ZeroFraction, capacity: types.ZeroFraction, valid: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Notify applies one store event.
func (m *Mirror) Notify(e store.Event) {
	m.mu.Lock()
	m.attached = true
	m.events++
	switch e.Kind {
	case store.EventCapacity:
		m.capacity = m.capacity.Add(e.CapacityDelta)
	case store.EventAccept, store.EventSupply:
		if e.Handle >= 0 {
			m.set(e.Handle, e.Article, e.After)
			m.count = m.count.Add(e.Delta())
		}
	}
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(e)
	}
}

func (m *Mirror) set(handle int, a types.Article, amount types.Fraction) {
	for len(m.entries) <= handle {
		m.entries = append(m.entries, store.ArticleView{Article: types.Nothing, Amount: types.ZeroFraction, Handle: len(m.entries)})
	}
	m.entries[handle] = store.ArticleView{Article: a, Amount: amount, Handle: handle}
}

// Disconnect marks the mirror detached. If the store went away the mirror
// is marked invalid; its last contents stay readable.
func (m *Mirror) Disconnect(_ store.Store, _, isValid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = false
	if !isValid {
		m.valid = false
	}
}

// Reset clears the mirror, for example before a fresh bootstrap.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.count = types.ZeroFraction
	m.capacity = types.ZeroFraction
	m.attached = false
	m.valid = true
}

// Invalidate marks the mirror as no longer tracking its store.
func (m *Mirror) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = false
}

// View returns the entry at handle, or store.EmptyView.
func (m *Mirror) View(handle int) store.ArticleView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if handle < 0 || handle >= len(m.entries) || m.entries[handle].IsEmpty() {
		return store.EmptyView
	}
	return m.entries[handle]
}

// AmountOf returns the mirrored quantity of a.
func (m *Mirror) AmountOf(a types.Article) types.Fraction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := types.ZeroFraction
	for _, v := range m.entries {
		if v.Article == a {
			total = total.Add(v.Amount)
		}
	}
	return total
}

// Contents returns the non-empty entries in handle order.
func (m *Mirror) Contents() []store.ArticleView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.DeleteFunc(slices.Clone(m.entries), store.ArticleView.IsEmpty)
}

// HandleCount returns one past the highest handle seen.
func (m *Mirror) HandleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Count returns the mirrored total quantity.
func (m *Mirror) Count() types.Fraction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Capacity returns the mirrored capacity.
func (m *Mirror) Capacity() types.Fraction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capacity
}

// Events returns the number of events applied since creation.
func (m *Mirror) Events() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events
}

// Attached reports whether events have arrived since the last disconnect.
func (m *Mirror) Attached() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attached
}

// Valid reports whether the mirror still tracks a live store.
func (m *Mirror) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.valid
}

// Matches reports whether the mirror agrees with s on count, capacity and
// every handle.
func (m *Mirror) Matches(s store.Store) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.count.Equal(s.Count()) || !m.capacity.Equal(s.Capacity()) {
		return false
	}
	for _, v := range m.entries {
		if v.IsEmpty() {
			continue
		}
		got := s.View(v.Handle)
		if got.Article != v.Article || !got.Amount.Equal(v.Amount) {
			return false
		}
	}
	return true
}
