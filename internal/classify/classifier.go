// Package classify maps window identities to activity categories using
// an ordered, reloadable rule set.
package classify

import (
	"sync/atomic"

	"github.com/lereldarion/xstalker/pkg/window"
)

// Classifier holds the active rule set. Classification uses whichever
// set is installed at call time; closed intervals are never revisited
// after a swap.
type Classifier struct {
	active atomic.Pointer[RuleSet]
}

// New creates a classifier around an initial rule set.
func New(rs *RuleSet) *Classifier {
	c := &Classifier{}
	c.active.Store(rs)
	return c
}

// Classify returns the category for a window. Never fails.
func (c *Classifier) Classify(w window.Identity) string {
	return c.active.Load().Classify(w)
}

// Categories lists the active set's categories.
func (c *Classifier) Categories() []string {
	return c.active.Load().Categories()
}

// Swap installs a new rule set and returns the previous one.
func (c *Classifier) Swap(rs *RuleSet) *RuleSet {
	return c.active.Swap(rs)
}

// RuleCount returns the active set's rule count.
func (c *Classifier) RuleCount() int {
	return c.active.Load().Len()
}
