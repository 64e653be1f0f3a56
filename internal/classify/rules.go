package classify

import (
	"crypto/sha256"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lereldarion/xstalker/pkg/window"
)

// Uncategorized is the category assigned when no rule matches.
const Uncategorized = "uncategorized"

// rawRule is the on-disk YAML shape. Every present field is a regular
// expression that must match the corresponding window attribute; a rule
// with no patterns matches everything.
type rawRule struct {
	Category string `yaml:"category"`
	App      string `yaml:"app"`
	Class    string `yaml:"class"`
	Title    string `yaml:"title"`
}

type rulesFile struct {
	Rules []rawRule `yaml:"rules"`
}

// Rule is one compiled matcher. Nil patterns are wildcards.
type Rule struct {
	Category string
	App      *regexp.Regexp
	Class    *regexp.Regexp
	Title    *regexp.Regexp
}

// Matches reports whether every present pattern matches the window.
func (r *Rule) Matches(w window.Identity) bool {
	if r.App != nil && !r.App.MatchString(w.AppName) {
		return false
	}
	if r.Class != nil && !r.Class.MatchString(w.Class) {
		return false
	}
	if r.Title != nil && !r.Title.MatchString(w.Title) {
		return false
	}
	return true
}

// RuleSet is an ordered list of rules. Order is significant: the first
// matching rule decides the category.
type RuleSet struct {
	rules       []Rule
	categories  []string
	fingerprint string
}

// LoadRules reads and compiles the rules file. A missing file yields an
// empty set (everything classifies as uncategorized). Malformed YAML or
// an invalid pattern fails the load; classification itself cannot fail.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RuleSet{categories: []string{Uncategorized}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rs, nil
}

// ParseRules compiles a rule set from raw YAML.
func ParseRules(data []byte) (*RuleSet, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}

	rs := &RuleSet{
		rules:       make([]Rule, 0, len(f.Rules)),
		fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	seen := make(map[string]bool)

	for i, raw := range f.Rules {
		if strings.TrimSpace(raw.Category) == "" {
			return nil, fmt.Errorf("rule %d: category must not be empty", i)
		}

		rule := Rule{Category: raw.Category}
		var err error
		if rule.App, err = compilePattern(raw.App); err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid app pattern: %w", i, raw.Category, err)
		}
		if rule.Class, err = compilePattern(raw.Class); err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid class pattern: %w", i, raw.Category, err)
		}
		if rule.Title, err = compilePattern(raw.Title); err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid title pattern: %w", i, raw.Category, err)
		}

		rs.rules = append(rs.rules, rule)
		if !seen[raw.Category] {
			seen[raw.Category] = true
			rs.categories = append(rs.categories, raw.Category)
		}
	}

	if !seen[Uncategorized] {
		rs.categories = append(rs.categories, Uncategorized)
	}
	return rs, nil
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

// Classify returns the category of the first matching rule, or
// Uncategorized when nothing matches. Total over all inputs.
func (rs *RuleSet) Classify(w window.Identity) string {
	for i := range rs.rules {
		if rs.rules[i].Matches(w) {
			return rs.rules[i].Category
		}
	}
	return Uncategorized
}

// Categories lists the categories this set can produce, in rule order,
// with Uncategorized always present.
func (rs *RuleSet) Categories() []string {
	out := make([]string, len(rs.categories))
	copy(out, rs.categories)
	return out
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Fingerprint is the SHA-256 of the raw rules file, used to tell reloads
// apart in logs.
func (rs *RuleSet) Fingerprint() string {
	return rs.fingerprint
}
