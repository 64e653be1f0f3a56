package aggregate

import (
	"sort"
	"sync"
	"time"
)

// Table is the in-memory bucket table. A single fold worker mutates it
// (Apply, Load, MarkClean); readers query it concurrently. Dirty
// tracking assumes Apply and the DirtyBuckets/MarkClean pair run on the
// same goroutine.
type Table struct {
	mu    sync.RWMutex
	width time.Duration
	cells map[Key]time.Duration
	dirty map[Key]struct{}
}

// NewTable creates an empty table for the given slot width.
func NewTable(width time.Duration) *Table {
	return &Table{
		width: width,
		cells: make(map[Key]time.Duration),
		dirty: make(map[Key]struct{}),
	}
}

// Width returns the slot width.
func (t *Table) Width() time.Duration {
	return t.width
}

// Apply adds folded buckets to their cells and marks them dirty.
func (t *Table) Apply(buckets []Bucket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range buckets {
		k := Key{Slot: b.Slot, Category: b.Category}
		t.cells[k] += b.Duration
		t.dirty[k] = struct{}{}
	}
}

// Load replaces the table contents with a checkpoint snapshot. Loaded
// cells are clean: they are already persisted.
func (t *Table) Load(cells map[Key]time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cells = make(map[Key]time.Duration, len(cells))
	for k, v := range cells {
		t.cells[k] = v
	}
	t.dirty = make(map[Key]struct{})
}

// Snapshot returns a copy of every cell.
func (t *Table) Snapshot() map[Key]time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Key]time.Duration, len(t.cells))
	for k, v := range t.cells {
		out[k] = v
	}
	return out
}

// DirtyBuckets returns the cells touched since the last MarkClean,
// sorted by slot then category.
func (t *Table) DirtyBuckets() []Bucket {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Bucket, 0, len(t.dirty))
	for k := range t.dirty {
		out = append(out, Bucket{Slot: k.Slot, Category: k.Category, Duration: t.cells[k]})
	}
	sortBuckets(out)
	return out
}

// MarkClean drops the given buckets from the dirty set after a
// successful checkpoint.
func (t *Table) MarkClean(buckets []Bucket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range buckets {
		delete(t.dirty, Key{Slot: b.Slot, Category: b.Category})
	}
}

// Query returns the buckets with slot start in [from, to), optionally
// restricted to one category, sorted by slot then category. The result
// is a consistent snapshot: a concurrent fold is either fully visible
// or not at all.
func (t *Table) Query(from, to time.Time, category string) []Bucket {
	from = from.UTC()
	to = to.UTC()

	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Bucket
	for k, v := range t.cells {
		if k.Slot.Before(from) || !k.Slot.Before(to) {
			continue
		}
		if category != "" && k.Category != category {
			continue
		}
		out = append(out, Bucket{Slot: k.Slot, Category: k.Category, Duration: v})
	}
	sortBuckets(out)
	return out
}

// Totals sums durations per category over slots starting in [from, to).
func (t *Table) Totals(from, to time.Time) map[string]time.Duration {
	from = from.UTC()
	to = to.UTC()

	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]time.Duration)
	for k, v := range t.cells {
		if k.Slot.Before(from) || !k.Slot.Before(to) {
			continue
		}
		out[k.Category] += v
	}
	return out
}

// Size returns the number of cells.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cells)
}

func sortBuckets(bs []Bucket) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].Slot.Equal(bs[j].Slot) {
			return bs[i].Slot.Before(bs[j].Slot)
		}
		return bs[i].Category < bs[j].Category
	})
}
