package x11

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lereldarion/xstalker/pkg/window"
)

const defaultIdlePoll = 5 * time.Second

// IsAvailable reports whether an X display looks reachable.
func IsAvailable() bool {
	return os.Getenv("DISPLAY") != ""
}

// Source implements window.Source for X11. Focus changes arrive as
// PropertyNotify events on the root window; title changes as
// PropertyNotify on the focused window. Idle and lock state is polled.
type Source struct {
	idleTimeout time.Duration
	pollEvery   time.Duration
	log         zerolog.Logger

	client *Client

	mu      sync.Mutex
	current xproto.Window

	events   chan window.FocusEvent
	signals  chan window.Signal
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	hasXprintidle bool
}

// NewSource creates an X11 source. An idleTimeout of zero disables
// idle detection.
func NewSource(idleTimeout time.Duration, logger zerolog.Logger) *Source {
	_, err := exec.LookPath("xprintidle")
	return &Source{
		idleTimeout:   idleTimeout,
		pollEvery:     defaultIdlePoll,
		log:           logger,
		events:        make(chan window.FocusEvent, 64),
		signals:       make(chan window.Signal, 64),
		stopChan:      make(chan struct{}),
		hasXprintidle: err == nil,
	}
}

// Events returns the focus event stream.
func (s *Source) Events() <-chan window.FocusEvent {
	return s.events
}

// Signals returns the idle/resume signal stream.
func (s *Source) Signals() <-chan window.Signal {
	return s.signals
}

// Start connects to the X server, subscribes to focus changes and
// seeds the stream with the currently focused window.
func (s *Source) Start(ctx context.Context) error {
	client, err := Connect()
	if err != nil {
		return err
	}
	s.client = client

	if err := s.watchRoot(); err != nil {
		client.Close()
		return errors.Wrap(err, "failed to select PropertyNotify on root")
	}

	s.wg.Add(1)
	go s.eventLoop()

	if s.idleTimeout > 0 {
		s.wg.Add(1)
		go s.idleLoop()
	}

	s.refocus()
	return nil
}

// Close tears the source down and closes both streams.
func (s *Source) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.client != nil {
			s.client.Close()
		}
		s.wg.Wait()
		close(s.events)
		close(s.signals)
	})
	return nil
}

func (s *Source) watchRoot() error {
	return xproto.ChangeWindowAttributesChecked(s.client.conn, s.client.root,
		xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange}).Check()
}

// watchWindow moves this client's PropertyNotify subscription from one
// focused window to the next. Event masks are per client, so clearing
// ours cannot disturb other X clients.
func (s *Source) watchWindow(prev, next xproto.Window) {
	if prev != 0 && prev != s.client.root {
		_ = xproto.ChangeWindowAttributesChecked(s.client.conn, prev,
			xproto.CwEventMask, []uint32{xproto.EventMaskNoEvent}).Check()
	}
	if next != 0 && next != s.client.root {
		if err := xproto.ChangeWindowAttributesChecked(s.client.conn, next,
			xproto.CwEventMask, []uint32{xproto.EventMaskPropertyChange}).Check(); err != nil {
			s.log.Debug().Uint32("window", uint32(next)).Err(err).Msg("title watch failed")
		}
	}
}

func (s *Source) eventLoop() {
	defer s.wg.Done()

	for {
		ev, xerr := s.client.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return // connection closed
		}
		if xerr != nil {
			s.log.Debug().Str("x11_error", xerr.Error()).Msg("x11 error event")
			continue
		}
		if prop, ok := ev.(xproto.PropertyNotifyEvent); ok {
			s.handleProperty(prop)
		}
	}
}

func (s *Source) handleProperty(ev xproto.PropertyNotifyEvent) {
	switch {
	case ev.Window == s.client.root && ev.Atom == s.client.atoms["_NET_ACTIVE_WINDOW"]:
		s.refocus()

	case ev.Window == s.currentWindow() &&
		(ev.Atom == s.client.atoms["_NET_WM_NAME"] || ev.Atom == s.client.atoms["WM_NAME"]):
		s.emitFocus(s.client.identity(ev.Window))
	}
}

func (s *Source) refocus() {
	id, win, err := s.client.FocusedIdentity()
	if err != nil {
		s.log.Debug().Err(err).Msg("focused window lookup failed")
		return
	}

	prev := s.currentWindow()
	if win != prev {
		s.watchWindow(prev, win)
		s.setCurrent(win)
	}
	s.emitFocus(id)
}

func (s *Source) currentWindow() xproto.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Source) setCurrent(win xproto.Window) {
	s.mu.Lock()
	s.current = win
	s.mu.Unlock()
}

func (s *Source) emitFocus(id window.Identity) {
	ev := window.FocusEvent{Time: time.Now().UTC(), Window: id}
	select {
	case s.events <- ev:
	case <-s.stopChan:
	}
}

func (s *Source) emitSignal(sig window.Signal) {
	select {
	case s.signals <- sig:
	case <-s.stopChan:
	}
}

func (s *Source) idleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	idle := false
	for {
		select {
		case <-s.stopChan:
			return

		case <-ticker.C:
			inactive, lastActive := s.probeIdle()
			switch {
			case inactive && !idle:
				idle = true
				s.emitSignal(window.Signal{Kind: window.SignalIdle, Time: lastActive})

			case !inactive && idle:
				idle = false
				s.emitSignal(window.Signal{Kind: window.SignalResume, Time: time.Now().UTC()})
				s.refocus()
			}
		}
	}
}

// probeIdle reports whether the session is inactive and when activity
// was last seen. A locked screen counts as inactive from the moment it
// is observed; plain idleness is backdated to the last input.
func (s *Source) probeIdle() (bool, time.Time) {
	now := time.Now().UTC()
	if screenLocked() {
		return true, now
	}
	if !s.hasXprintidle {
		return false, now
	}

	idleFor, err := readIdle()
	if err != nil || idleFor < s.idleTimeout {
		return false, now
	}
	return true, now.Add(-idleFor)
}

func readIdle() (time.Duration, error) {
	out, err := exec.Command("xprintidle").Output()
	if err != nil {
		return 0, err
	}
	return parseIdleMs(string(out))
}

// parseIdleMs converts xprintidle output (idle milliseconds) to a
// duration.
func parseIdleMs(out string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "unexpected xprintidle output")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func screenLocked() bool {
	lockers := []string{
		"gnome-screensaver-dialog",
		"kscreenlocker",
		"i3lock",
		"slock",
		"xscreensaver",
		"xsecurelock",
	}

	for _, locker := range lockers {
		if err := exec.Command("pgrep", "-x", locker).Run(); err == nil {
			return true
		}
	}
	return false
}

// Prober reports the identity of the currently focused window without
// a running source.
type Prober struct{}

// Probe opens a transient X connection and reads the focused window.
func (Prober) Probe(ctx context.Context) (window.Identity, error) {
	client, err := Connect()
	if err != nil {
		return window.Identity{}, err
	}
	defer client.Close()

	id, _, err := client.FocusedIdentity()
	return id, err
}
