package store

import (
	"iter"
	"slices"

	"github.com/xraph/stockpile/types"
)

const defaultHandleCapacity = 8

// StoredArticle is the record behind one handle.
type StoredArticle struct {
	article types.Article
	amount  types.Fraction
	handle  int

	// holders is only used by aggregates: the members known to hold article.
	holders []Store
}

// Article returns the article, or Nothing for an unused slot.
func (r *StoredArticle) Article() types.Article { return r.article }

// Amount returns the quantity held.
func (r *StoredArticle) Amount() types.Fraction { return r.amount }

// Handle returns the slot index.
func (r *StoredArticle) Handle() int { return r.handle }

// IsUnused reports whether the slot holds no article at all.
func (r *StoredArticle) IsUnused() bool { return r.article.IsNothing() }

func (r *StoredArticle) view() ArticleView {
	if r.article.IsNothing() {
		return EmptyView
	}
	return ArticleView{Article: r.article, Amount: r.amount, Handle: r.handle}
}

func (r *StoredArticle) addHolder(s Store) {
	if !slices.Contains(r.holders, s) {
		r.holders = append(r.holders, s)
	}
}

func (r *StoredArticle) removeHolder(s Store) {
	if i := slices.Index(r.holders, s); i >= 0 {
		r.holders = slices.Delete(r.holders, i, i+1)
	}
}

func (r *StoredArticle) hasHolder(s Store) bool {
	return slices.Contains(r.holders, s)
}

// Handles allocates identity-stable handles for article records.
//
// The backing slice always has a power-of-two length and is backfilled with
// unused records. Handles below the high-water mark are stable until
// Compact is called, which stores only do while no listener is attached.
type Handles struct {
	slots []*StoredArticle
	high  int
	index map[types.Article]*StoredArticle
}

// NewHandles creates a handle table with room for at least n records.
func NewHandles(n int) *Handles {
	size := 1
	for size < max(n, 1) {
		size <<= 1
	}
	h := &Handles{index: make(map[types.Article]*StoredArticle)}
	h.grow(size)
	return h
}

func (h *Handles) grow(size int) {
	slots := make([]*StoredArticle, size)
	n := copy(slots, h.slots)
	for i := n; i < size; i++ {
		slots[i] = &StoredArticle{article: types.Nothing, amount: types.ZeroFraction, handle: i}
	}
	h.slots = slots
}

// HighWater returns one past the highest handle ever allocated since the
// last compaction.
func (h *Handles) HighWater() int { return h.high }

// Occupied returns the number of records holding an article.
func (h *Handles) Occupied() int { return len(h.index) }

// Find returns the record for a, or nil.
func (h *Handles) Find(a types.Article) *StoredArticle {
	return h.index[a]
}

// Get returns the record at handle, or nil when out of range.
func (h *Handles) Get(handle int) *StoredArticle {
	if handle < 0 || handle >= h.high {
		return nil
	}
	return h.slots[handle]
}

// FindOrCreate returns the record for a, allocating one if needed. Unused
// slots below the high-water mark are reused before the mark is raised.
func (h *Handles) FindOrCreate(a types.Article) *StoredArticle {
	if r, ok := h.index[a]; ok {
		return r
	}

	slot := -1
	for i := 0; i < h.high; i++ {
		if h.slots[i].IsUnused() {
			slot = i
			break
		}
	}
	if slot < 0 {
		if h.high == len(h.slots) {
			h.grow(len(h.slots) * 2)
		}
		slot = h.high
		h.high++
	}

	r := h.slots[slot]
	r.article = a
	r.amount = types.ZeroFraction
	r.holders = nil
	h.index[a] = r
	return r
}

// Release frees the slot of a record holding zero quantity. It reports
// whether the record was released.
func (h *Handles) Release(r *StoredArticle) bool {
	if r.IsUnused() || !r.amount.IsZero() {
		return false
	}
	delete(h.index, r.article)
	r.article = types.Nothing
	r.holders = nil
	return true
}

// Compact releases every zero record and packs the remaining records below
// the high-water mark, renumbering the handles of moved records.
func (h *Handles) Compact() {
	for i := 0; i < h.high; i++ {
		h.Release(h.slots[i])
	}
	h.trim()

	for i := h.high - 1; i >= 0; i-- {
		if !h.slots[i].IsUnused() {
			continue
		}
		last := h.high - 1
		h.slots[i], h.slots[last] = h.slots[last], h.slots[i]
		h.slots[i].handle = i
		h.slots[last].handle = last
		h.high--
		h.trim()
	}
}

func (h *Handles) trim() {
	for h.high > 0 && h.slots[h.high-1].IsUnused() {
		h.high--
	}
}

// Contents yields a view of every record holding a positive quantity, in
// handle order.
func (h *Handles) Contents() iter.Seq[ArticleView] {
	return func(yield func(ArticleView) bool) {
		for i := 0; i < h.high; i++ {
			r := h.slots[i]
			if r.IsUnused() || !r.amount.IsPositive() {
				continue
			}
			if !yield(r.view()) {
				return
			}
		}
	}
}

// Reset releases every record regardless of quantity.
func (h *Handles) Reset() {
	for i := 0; i < h.high; i++ {
		r := h.slots[i]
		r.article = types.Nothing
		r.amount = types.ZeroFraction
		r.holders = nil
	}
	clear(h.index)
	h.high = 0
}
