package window

import (
	"context"
	"time"
)

// Identity describes the currently focused window as reported by the
// display server.
type Identity struct {
	AppName string // application name (WM_CLASS instance on X11)
	Class   string // window class (WM_CLASS class on X11)
	Title   string // window title
	PID     int    // owning process id, 0 when unknown
}

// FocusEvent is emitted whenever focus moves to a different window.
type FocusEvent struct {
	Time   time.Time
	Window Identity
}

// SignalKind distinguishes the non-focus notifications a source can emit.
type SignalKind int

const (
	// SignalIdle means the user stopped interacting (idle timeout or lock).
	SignalIdle SignalKind = iota
	// SignalResume means activity returned after an idle period. Sources
	// follow a resume with a FocusEvent for the current window.
	SignalResume
)

func (k SignalKind) String() string {
	switch k {
	case SignalIdle:
		return "idle"
	case SignalResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Signal is an idle or resume notification with the time it was observed.
type Signal struct {
	Kind SignalKind
	Time time.Time
}

// Source is the interface that all focus event sources must satisfy.
// Events and Signals are each delivered in order; both channels are
// closed after Close returns.
type Source interface {
	// Start begins watching for focus changes and idle transitions.
	Start(ctx context.Context) error

	// Events returns the channel of focus changes.
	Events() <-chan FocusEvent

	// Signals returns the channel of idle/resume notifications.
	Signals() <-chan Signal

	// Close stops the source and releases its resources.
	Close() error
}

// Prober answers one-shot "what is focused right now" queries without
// starting a full event stream.
type Prober interface {
	Probe(ctx context.Context) (Identity, error)
}
