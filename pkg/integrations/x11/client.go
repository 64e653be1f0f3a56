// Package x11 provides the X11 focus event source: active-window and
// title changes via PropertyNotify, idle detection via xprintidle and
// screen locker processes.
package x11

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"

	"github.com/lereldarion/xstalker/pkg/window"
)

// Client wraps an X connection with the atoms the source needs.
type Client struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

// Connect opens an X connection and interns the required atoms.
func Connect() (*Client, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}

	setup := xproto.Setup(conn)
	root := setup.DefaultScreen(conn).Root

	client := &Client{
		conn:  conn,
		root:  root,
		atoms: make(map[string]xproto.Atom),
	}

	atomNames := []string{
		"_NET_ACTIVE_WINDOW",
		"_NET_WM_NAME",
		"_NET_WM_PID",
		"WM_NAME",
		"WM_CLASS",
		"UTF8_STRING",
	}
	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to intern atom %s", name)
		}
		client.atoms[name] = reply.Atom
	}

	return client, nil
}

// Close shuts the X connection down, unblocking any event wait.
func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) getProperty(win xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(c.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (c *Client) activeWindowFromProperty() xproto.Window {
	data, err := c.getProperty(c.root, c.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

func (c *Client) activeWindowFromInputFocus() xproto.Window {
	reply, err := xproto.GetInputFocus(c.conn).Reply()
	if err != nil {
		return 0
	}
	return reply.Focus
}

func (c *Client) topLevelParent(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(c.conn, win).Reply()
		if err != nil || reply.Parent == c.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (c *Client) hasValidName(win xproto.Window) bool {
	data, _ := c.getProperty(win, c.atoms["_NET_WM_NAME"], c.atoms["UTF8_STRING"], 1)
	if len(data) > 0 {
		return true
	}
	data, _ = c.getProperty(win, c.atoms["WM_NAME"], xproto.AtomString, 1)
	return len(data) > 0
}

// activeWindow resolves the focused top-level window. The EWMH
// property can lag a focus change, so input focus is the fallback and
// the lookup retries briefly.
func (c *Client) activeWindow() (xproto.Window, error) {
	for i := 0; i < 5; i++ {
		win := c.activeWindowFromProperty()
		if win != 0 && c.hasValidName(win) {
			return win, nil
		}

		win = c.activeWindowFromInputFocus()
		if win != 0 && win != c.root {
			top := c.topLevelParent(win)
			if top != 0 && c.hasValidName(top) {
				return top, nil
			}
		}

		time.Sleep(20 * time.Millisecond)
	}

	return 0, errors.New("no active window found")
}

func (c *Client) windowName(win xproto.Window) string {
	data, err := c.getProperty(win, c.atoms["_NET_WM_NAME"], c.atoms["UTF8_STRING"], 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}

	data, err = c.getProperty(win, c.atoms["WM_NAME"], xproto.AtomString, 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}

	return ""
}

func (c *Client) windowClass(win xproto.Window) (instance, class string) {
	data, err := c.getProperty(win, c.atoms["WM_CLASS"], xproto.AtomString, 256)
	if err != nil {
		return "", ""
	}
	return parseClass(data)
}

func (c *Client) windowPID(win xproto.Window) int {
	data, err := c.getProperty(win, c.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return int(binary.LittleEndian.Uint32(data))
}

// FocusedIdentity reads the identity of the currently focused window.
func (c *Client) FocusedIdentity() (window.Identity, xproto.Window, error) {
	win, err := c.activeWindow()
	if err != nil {
		return window.Identity{}, 0, err
	}
	return c.identity(win), win, nil
}

func (c *Client) identity(win xproto.Window) window.Identity {
	instance, class := c.windowClass(win)
	return window.Identity{
		AppName: instance,
		Class:   class,
		Title:   c.windowName(win),
		PID:     c.windowPID(win),
	}
}

// parseClass splits a WM_CLASS property value into its instance and
// class parts (two NUL-terminated strings).
func parseClass(data []byte) (instance, class string) {
	if len(data) == 0 {
		return "", ""
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	if len(parts) >= 1 {
		instance = parts[0]
	}
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}
