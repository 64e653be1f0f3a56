// Package aggregate folds activity intervals into fixed-width,
// epoch-aligned time slots.
package aggregate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bucket is the accumulated duration of one category inside one slot.
type Bucket struct {
	Slot     time.Time
	Category string
	Duration time.Duration
}

// Key identifies a table cell.
type Key struct {
	Slot     time.Time
	Category string
}

// SlotFor returns the start of the slot containing t. Slots are aligned
// to the Unix epoch in UTC, so alignment is independent of process
// start time.
func SlotFor(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// ParseSpan parses a duration string, additionally accepting a "d"
// suffix for whole days ("7d" = 168h).
func ParseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid span %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("span %q must be positive", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid span %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("span %q must be positive", s)
	}
	return d, nil
}

// Fold splits the interval [start, end) across the slots it covers and
// returns one bucket per touched slot. The bucket durations always sum
// to exactly end minus start. An empty or inverted interval folds to
// nothing.
func Fold(category string, start, end time.Time, width time.Duration) []Bucket {
	if !start.Before(end) {
		return nil
	}
	start = start.UTC()
	end = end.UTC()

	out := make([]Bucket, 0, 1)
	cur := start
	for cur.Before(end) {
		next := SlotFor(cur, width).Add(width)
		sliceEnd := end
		if next.Before(end) {
			sliceEnd = next
		}
		out = append(out, Bucket{
			Slot:     SlotFor(cur, width),
			Category: category,
			Duration: sliceEnd.Sub(cur),
		})
		cur = sliceEnd
	}
	return out
}
