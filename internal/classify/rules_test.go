package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lereldarion/xstalker/pkg/window"
)

const sampleRules = `
rules:
  - category: code
    class: "(?i)^(code|jetbrains|emacs)"
  - category: code
    app: "^vim$"
  - category: web-dev
    class: "(?i)firefox"
    title: "(?i)(localhost|godoc|stack overflow)"
  - category: web
    class: "(?i)firefox|chromium"
  - category: chat
    class: "(?i)slack|discord"
`

func TestParseRulesFirstMatchWins(t *testing.T) {
	rs, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Equal(t, 5, rs.Len())

	tests := []struct {
		name string
		w    window.Identity
		want string
	}{
		{
			name: "editor by class",
			w:    window.Identity{AppName: "code", Class: "Code", Title: "main.go"},
			want: "code",
		},
		{
			name: "vim by app name",
			w:    window.Identity{AppName: "vim", Class: "st-256color", Title: "fold.go"},
			want: "code",
		},
		{
			name: "browser on localhost is web-dev before web",
			w:    window.Identity{AppName: "firefox", Class: "Firefox", Title: "localhost:8080"},
			want: "web-dev",
		},
		{
			name: "plain browsing falls through to web",
			w:    window.Identity{AppName: "firefox", Class: "Firefox", Title: "news"},
			want: "web",
		},
		{
			name: "no rule matches",
			w:    window.Identity{AppName: "mpv", Class: "mpv", Title: "movie"},
			want: Uncategorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, rs.Classify(tt.w))
		})
	}
}

func TestParseRulesANDSemantics(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - category: focused-writing
    class: "(?i)obsidian"
    title: "draft"
`))
	require.NoError(t, err)

	// Both patterns present: both must match.
	require.Equal(t, "focused-writing", rs.Classify(window.Identity{Class: "obsidian", Title: "draft: intro"}))
	require.Equal(t, Uncategorized, rs.Classify(window.Identity{Class: "obsidian", Title: "inbox"}))
	require.Equal(t, Uncategorized, rs.Classify(window.Identity{Class: "firefox", Title: "draft: intro"}))
}

func TestParseRulesCatchAll(t *testing.T) {
	rs, err := ParseRules([]byte(`
rules:
  - category: chat
    class: slack
  - category: everything-else
`))
	require.NoError(t, err)

	// A rule with no patterns matches any window, shadowing the fallback.
	require.Equal(t, "everything-else", rs.Classify(window.Identity{Class: "mpv"}))
	require.Equal(t, "chat", rs.Classify(window.Identity{Class: "slack"}))
}

func TestParseRulesErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad regex", "rules:\n  - category: code\n    class: '('\n"},
		{"empty category", "rules:\n  - category: \"\"\n    class: code\n"},
		{"not yaml", ": definitely not yaml {{{"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestCategoriesOrderedAndDeduplicated(t *testing.T) {
	rs, err := ParseRules([]byte(sampleRules))
	require.NoError(t, err)
	require.Equal(t, []string{"code", "web-dev", "web", "chat", Uncategorized}, rs.Categories())
}

func TestLoadRulesMissingFile(t *testing.T) {
	rs, err := LoadRules(filepath.Join(t.TempDir(), "no-such-rules.yaml"))
	require.NoError(t, err)
	require.Equal(t, 0, rs.Len())
	require.Equal(t, Uncategorized, rs.Classify(window.Identity{AppName: "anything"}))
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0644))

	rs, err := LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, 5, rs.Len())
	require.NotEmpty(t, rs.Fingerprint())
}

func TestClassifierSwap(t *testing.T) {
	first, err := ParseRules([]byte("rules:\n  - category: old\n    class: firefox\n"))
	require.NoError(t, err)
	second, err := ParseRules([]byte("rules:\n  - category: new\n    class: firefox\n"))
	require.NoError(t, err)

	c := New(first)
	w := window.Identity{Class: "firefox"}
	require.Equal(t, "old", c.Classify(w))

	prev := c.Swap(second)
	require.Same(t, first, prev)
	require.Equal(t, "new", c.Classify(w))
	require.NotEqual(t, first.Fingerprint(), second.Fingerprint())
}
