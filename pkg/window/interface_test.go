package window

import (
	"context"
	"testing"
	"time"
)

type MockSource struct {
	events  chan FocusEvent
	signals chan Signal
	started bool
}

func NewMockSource() *MockSource {
	return &MockSource{
		events:  make(chan FocusEvent, 16),
		signals: make(chan Signal, 16),
	}
}

func (m *MockSource) Start(ctx context.Context) error {
	m.started = true
	return nil
}

func (m *MockSource) Events() <-chan FocusEvent {
	return m.events
}

func (m *MockSource) Signals() <-chan Signal {
	return m.signals
}

func (m *MockSource) Close() error {
	close(m.events)
	close(m.signals)
	return nil
}

func TestMockSource(t *testing.T) {
	var _ Source = (*MockSource)(nil)

	mock := NewMockSource()
	if err := mock.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !mock.started {
		t.Error("Start() did not mark source as started")
	}

	sent := FocusEvent{
		Time: time.Now(),
		Window: Identity{
			AppName: "firefox",
			Class:   "Firefox",
			Title:   "Example Page",
			PID:     1234,
		},
	}
	mock.events <- sent

	got := <-mock.Events()
	if got.Window.AppName != "firefox" {
		t.Errorf("AppName = %s, want firefox", got.Window.AppName)
	}
	if got.Window.Class != "Firefox" {
		t.Errorf("Class = %s, want Firefox", got.Window.Class)
	}

	mock.signals <- Signal{Kind: SignalIdle, Time: time.Now()}
	sig := <-mock.Signals()
	if sig.Kind != SignalIdle {
		t.Errorf("Kind = %v, want SignalIdle", sig.Kind)
	}

	if err := mock.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	if _, ok := <-mock.Events(); ok {
		t.Error("Events() channel still open after Close()")
	}
	if _, ok := <-mock.Signals(); ok {
		t.Error("Signals() channel still open after Close()")
	}
}

func TestIdentity(t *testing.T) {
	id := Identity{
		AppName: "code",
		Class:   "Code",
		Title:   "main.go - xstalker",
		PID:     4321,
	}

	if id.AppName != "code" {
		t.Errorf("AppName = %s, want code", id.AppName)
	}
	if id.Class != "Code" {
		t.Errorf("Class = %s, want Code", id.Class)
	}
	if id.Title != "main.go - xstalker" {
		t.Errorf("Title = %s, want main.go - xstalker", id.Title)
	}
	if id.PID != 4321 {
		t.Errorf("PID = %d, want 4321", id.PID)
	}
}

func TestSignalKindString(t *testing.T) {
	tests := []struct {
		kind SignalKind
		want string
	}{
		{SignalIdle, "idle"},
		{SignalResume, "resume"},
		{SignalKind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEventOrdering(t *testing.T) {
	mock := NewMockSource()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		mock.events <- FocusEvent{
			Time:   base.Add(time.Duration(i) * time.Second),
			Window: Identity{AppName: "app", Title: "step"},
		}
	}

	prev := time.Time{}
	for i := 0; i < 5; i++ {
		ev := <-mock.Events()
		if !ev.Time.After(prev) {
			t.Errorf("event %d out of order: %v not after %v", i, ev.Time, prev)
		}
		prev = ev.Time
	}
}

func BenchmarkFocusEventCreation(b *testing.B) {
	now := time.Now()
	for i := 0; i < b.N; i++ {
		_ = FocusEvent{
			Time: now,
			Window: Identity{
				AppName: "firefox",
				Class:   "Firefox",
				Title:   "Example Page",
			},
		}
	}
}
