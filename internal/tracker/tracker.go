package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/pkg/window"
)

// ErrOutOfOrder is returned when an event or signal carries a timestamp
// older than the open interval's start. The event is rejected and the
// tracker state is left unchanged.
var ErrOutOfOrder = errors.New("event predates open interval")

// Interval is one closed span of attention to a single category,
// covering [Start, End) with Start < End.
type Interval struct {
	ID       uuid.UUID
	Category string
	Start    time.Time
	End      time.Time
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

type openInterval struct {
	id       uuid.UUID
	category string
	start    time.Time
}

// Tracker reduces the focus event stream to closed intervals. It is
// either idle (no open interval) or tracking exactly one open interval.
// Not safe for concurrent use; the ingestion loop is its only caller.
type Tracker struct {
	classifier *classify.Classifier
	open       *openInterval
}

// New creates an idle tracker.
func New(classifier *classify.Classifier) *Tracker {
	return &Tracker{classifier: classifier}
}

// OnFocus feeds one focus change. A category switch closes the open
// interval at the event time and returns it; a repeat of the current
// category is a debounce no-op. A switch at the exact open timestamp
// replaces the open interval without emitting a zero-length one.
func (t *Tracker) OnFocus(ev window.FocusEvent) (*Interval, error) {
	category := t.classifier.Classify(ev.Window)

	if t.open == nil {
		t.openAt(category, ev.Time)
		return nil, nil
	}
	if ev.Time.Before(t.open.start) {
		return nil, t.outOfOrder(ev.Time)
	}
	if category == t.open.category {
		return nil, nil
	}

	closed := t.closeAt(ev.Time)
	t.openAt(category, ev.Time)
	return closed, nil
}

// OnIdle closes the open interval at the given time and goes idle.
// Already idle is a no-op.
func (t *Tracker) OnIdle(at time.Time) (*Interval, error) {
	if t.open == nil {
		return nil, nil
	}
	if at.Before(t.open.start) {
		return nil, t.outOfOrder(at)
	}
	closed := t.closeAt(at)
	t.open = nil
	return closed, nil
}

// Flush splits the open interval at the given time: the elapsed part is
// closed and returned, and a new interval of the same category opens
// immediately. This bounds how much history an unclean exit can lose
// during a long focus session. Idle, or a flush at the exact open
// timestamp, is a no-op.
func (t *Tracker) Flush(at time.Time) (*Interval, error) {
	if t.open == nil {
		return nil, nil
	}
	if at.Before(t.open.start) {
		return nil, t.outOfOrder(at)
	}
	if at.UTC().Equal(t.open.start) {
		return nil, nil
	}

	category := t.open.category
	closed := t.closeAt(at)
	t.openAt(category, at)
	return closed, nil
}

// Open returns a copy of the open interval with a zero End, or nil when
// idle.
func (t *Tracker) Open() *Interval {
	if t.open == nil {
		return nil
	}
	return &Interval{ID: t.open.id, Category: t.open.category, Start: t.open.start}
}

func (t *Tracker) openAt(category string, at time.Time) {
	t.open = &openInterval{id: uuid.New(), category: category, start: at.UTC()}
}

// closeAt turns the open interval into a closed one ending at the given
// time. A zero-length interval is dropped, not emitted.
func (t *Tracker) closeAt(at time.Time) *Interval {
	at = at.UTC()
	if !t.open.start.Before(at) {
		return nil
	}
	return &Interval{
		ID:       t.open.id,
		Category: t.open.category,
		Start:    t.open.start,
		End:      at,
	}
}

func (t *Tracker) outOfOrder(at time.Time) error {
	return fmt.Errorf("%w: event at %s, open interval started %s",
		ErrOutOfOrder,
		at.UTC().Format(time.RFC3339Nano),
		t.open.start.Format(time.RFC3339Nano))
}
