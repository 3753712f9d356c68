package executor

import (
	"github.com/samber/lo"

	"github.com/buildbuildio/quarry/merger"
	"github.com/buildbuildio/quarry/node"
)

// Scope is what a step can read: variables, the tree produced by the steps
// that ran before it in a sequence and the variables whose producers failed.
// A Scope is never modified, With returns an extended copy.
type Scope struct {
	variables map[string]interface{}
	failed    map[string]struct{}
	tree      *node.Node
}

// NewScope returns the scope of a request carrying the client variables.
func NewScope(variables map[string]interface{}) Scope {
	return Scope{
		variables: lo.Assign(variables),
		failed:    map[string]struct{}{},
		tree:      node.Null(),
	}
}

// With returns a copy of s extended with exported variables and failed
// producers. A nil tree keeps the current one.
func (s Scope) With(variables map[string]interface{}, failed []string, tree *node.Node) Scope {
	next := Scope{
		variables: lo.Assign(s.variables, variables),
		failed:    lo.Assign(s.failed),
		tree:      s.tree,
	}
	for _, name := range failed {
		if _, ok := variables[name]; ok {
			// another producer of the same variable succeeded
			continue
		}
		next.failed[name] = struct{}{}
		delete(next.variables, name)
	}
	for name := range variables {
		delete(next.failed, name)
	}
	if tree != nil {
		next.tree = tree
	}
	return next
}

func (s Scope) Variable(name string) (interface{}, bool) {
	v, ok := s.variables[name]
	return v, ok
}

// Failed reports whether the producer of the variable failed.
func (s Scope) Failed(name string) bool {
	_, ok := s.failed[name]
	return ok
}

// Tree returns the tree written so far. Callers must not modify it.
func (s Scope) Tree() *node.Node {
	if s.tree == nil {
		return node.Null()
	}
	return s.tree
}

// merge returns a copy of the scope tree with partials written into it.
func (s Scope) merge(partials []*PartialResult) (*node.Node, error) {
	tree := s.Tree().Clone()
	for _, p := range partials {
		if p.Data == nil {
			continue
		}
		var err error
		tree, err = merger.Merge(tree, p.Data, p.Mount)
		if err != nil {
			return nil, err
		}
	}
	return tree, nil
}
