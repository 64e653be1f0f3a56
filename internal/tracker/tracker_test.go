package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/pkg/window"
)

const trackerRules = `
rules:
  - category: code
    app: "^Code$"
  - category: web
    app: "(?i)firefox"
`

func testTracker(t *testing.T) *Tracker {
	t.Helper()
	rs, err := classify.ParseRules([]byte(trackerRules))
	require.NoError(t, err)
	return New(classify.New(rs))
}

func focusAt(app string, at time.Time) window.FocusEvent {
	return window.FocusEvent{
		Time:   at,
		Window: window.Identity{AppName: app},
	}
}

var trackerBase = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func TestOnFocusOpensInterval(t *testing.T) {
	tr := testTracker(t)

	closed, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)
	assert.Nil(t, closed)

	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, "code", open.Category)
	assert.Equal(t, trackerBase, open.Start)
	assert.True(t, open.End.IsZero())
}

func TestOnFocusFallsBackToUncategorized(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("SomeGame", trackerBase))
	require.NoError(t, err)

	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, classify.Uncategorized, open.Category)
}

func TestOnFocusSwitchClosesInterval(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)

	closed, err := tr.OnFocus(focusAt("firefox", trackerBase.Add(10*time.Minute)))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, "code", closed.Category)
	assert.Equal(t, trackerBase, closed.Start)
	assert.Equal(t, trackerBase.Add(10*time.Minute), closed.End)
	assert.Equal(t, 10*time.Minute, closed.Duration())

	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, "web", open.Category)
	assert.Equal(t, trackerBase.Add(10*time.Minute), open.Start)
}

func TestOnFocusDebouncesSameCategory(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)
	before := tr.Open()

	// Title churn within the same category must not split the interval.
	closed, err := tr.OnFocus(focusAt("Code", trackerBase.Add(time.Minute)))
	require.NoError(t, err)
	assert.Nil(t, closed)

	after := tr.Open()
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, trackerBase, after.Start)
}

func TestOnFocusRejectsOutOfOrder(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)

	closed, err := tr.OnFocus(focusAt("firefox", trackerBase.Add(-time.Second)))
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Nil(t, closed)

	// State is untouched by the rejected event.
	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, "code", open.Category)
	assert.Equal(t, trackerBase, open.Start)
}

func TestOnFocusSameTimestampSwitch(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)

	// A switch at the exact open timestamp emits no zero-length interval.
	closed, err := tr.OnFocus(focusAt("firefox", trackerBase))
	require.NoError(t, err)
	assert.Nil(t, closed)

	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, "web", open.Category)
	assert.Equal(t, trackerBase, open.Start)
}

func TestOnIdleClosesAndGoesIdle(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)

	closed, err := tr.OnIdle(trackerBase.Add(5 * time.Minute))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, "code", closed.Category)
	assert.Equal(t, 5*time.Minute, closed.Duration())
	assert.Nil(t, tr.Open())

	// Idle while idle is a no-op.
	closed, err = tr.OnIdle(trackerBase.Add(6 * time.Minute))
	require.NoError(t, err)
	assert.Nil(t, closed)
}

func TestOnIdleRejectsOutOfOrder(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)

	_, err = tr.OnIdle(trackerBase.Add(-time.Minute))
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.NotNil(t, tr.Open())
}

func TestFlushSplitsOpenInterval(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)
	before := tr.Open()

	closed, err := tr.Flush(trackerBase.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, "code", closed.Category)
	assert.Equal(t, trackerBase, closed.Start)
	assert.Equal(t, trackerBase.Add(time.Minute), closed.End)

	after := tr.Open()
	require.NotNil(t, after)
	assert.Equal(t, "code", after.Category)
	assert.Equal(t, trackerBase.Add(time.Minute), after.Start)
	assert.NotEqual(t, before.ID, after.ID)
}

func TestFlushWhileIdleIsNoop(t *testing.T) {
	tr := testTracker(t)

	closed, err := tr.Flush(trackerBase)
	require.NoError(t, err)
	assert.Nil(t, closed)
	assert.Nil(t, tr.Open())
}

func TestFlushAtOpenTimestampIsNoop(t *testing.T) {
	tr := testTracker(t)

	_, err := tr.OnFocus(focusAt("Code", trackerBase))
	require.NoError(t, err)
	before := tr.Open()

	closed, err := tr.Flush(trackerBase)
	require.NoError(t, err)
	assert.Nil(t, closed)

	after := tr.Open()
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
}

func TestTrackerNormalizesToUTC(t *testing.T) {
	tr := testTracker(t)
	zone := time.FixedZone("UTC+2", 2*3600)
	local := trackerBase.In(zone)

	_, err := tr.OnFocus(focusAt("Code", local))
	require.NoError(t, err)

	open := tr.Open()
	require.NotNil(t, open)
	assert.Equal(t, time.UTC, open.Start.Location())
	assert.True(t, open.Start.Equal(trackerBase))
}
