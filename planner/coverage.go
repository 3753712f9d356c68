package planner

import (
	"github.com/buildbuildio/quarry/respath"
)

// Coverage answers which steps of a plan write which response positions.
// Steps are addressed by their ordinal in the plan.
type Coverage struct {
	plan *QueryPlan
}

// Coverage returns the authorship index of the plan.
func (qp *QueryPlan) Coverage() *Coverage {
	return &Coverage{plan: qp}
}

func (c *Coverage) step(ordinal int) (*Step, bool) {
	if ordinal < 0 || ordinal >= len(c.plan.steps) {
		return nil, false
	}
	return c.plan.steps[ordinal], true
}

// Shared reports whether a leaf step other than step writes at or below p.
func (c *Coverage) Shared(step int, p respath.Path) bool {
	for i, s := range c.plan.steps {
		if i == step || !s.IsLeaf() {
			continue
		}
		if writes(s, p) {
			return true
		}
	}
	return false
}

// Children returns the response names step selects directly below p, nil
// when p is outside of what the step wrote.
func (c *Coverage) Children(step int, p respath.Path) []string {
	s, ok := c.step(step)
	if !ok || !s.IsLeaf() {
		return nil
	}
	mount := s.Mount()
	if !p.HasPrefixMatch(mount) {
		return nil
	}
	sel, ok := selectionAt(s.SelectionSet, p[len(mount):].Fields())
	if !ok {
		return nil
	}
	return responseNames(sel)
}

// writes reports whether s authors content at or below p.
func writes(s *Step, p respath.Path) bool {
	mount := s.Mount()
	if mount.HasPrefixMatch(p) {
		// mounted at or below p
		return true
	}
	if !p.HasPrefixMatch(mount) {
		return false
	}
	names := p[len(mount):].Fields()
	if len(names) == 0 {
		return true
	}
	_, ok := selectionAt(s.SelectionSet, names)
	return ok
}
