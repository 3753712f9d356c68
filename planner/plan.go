package planner

import (
	"encoding/json"
	"fmt"

	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/format"
	"github.com/buildbuildio/quarry/respath"
	"github.com/samber/lo"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Kind tells plan steps apart. The set is closed, the executor switches on it.
type Kind string

const (
	// KindResolve sends one query to one source and mounts the answer.
	KindResolve Kind = "resolve"
	// KindSequence runs its steps one after another.
	KindSequence Kind = "sequence"
	// KindParallel runs its steps concurrently.
	KindParallel Kind = "parallel"
	// KindEntityBatch looks entities up by key through the source's _entities field.
	KindEntityBatch Kind = "entity_batch"
)

// Export publishes a value of a step's answer to the steps after it.
type Export struct {
	Variable string
	// Path is relative to the step's mount path.
	Path respath.Path
}

// Step is a single execution step
type Step struct {
	Kind Kind

	// Resolve and EntityBatch
	Source        string
	SelectionSet  ast.SelectionSet
	VariableTypes map[string]string

	// Resolve
	MountPath     respath.Path
	QueryString   string
	OperationName string
	Variables     map[string]interface{}
	Requires      []string
	Exports       []Export

	// EntityBatch
	Typename  string
	KeyFields []string
	KeysFrom  respath.Path

	// Sequence and Parallel
	Steps []*Step

	// artifacts
	VariablesList []string
}

// IsLeaf reports whether the step talks to a source.
func (s *Step) IsLeaf() bool {
	return s.Kind == KindResolve || s.Kind == KindEntityBatch
}

// Mount is the position the step's answer is grafted at. For entity batches
// it is the key pattern.
func (s *Step) Mount() respath.Path {
	if s.Kind == KindEntityBatch {
		return s.KeysFrom
	}
	return s.MountPath
}

// ResponseNames returns the top level response names the step selects.
func (s *Step) ResponseNames() []string {
	return responseNames(s.SelectionSet)
}

// FieldSet identifies what an entity batch selects, so equal lookups can share a request.
func (s *Step) FieldSet() string {
	return format.DebugFormatSelectionSetWithArgs(s.SelectionSet)
}

// MarshalJSON marshals the step the JSON
func (s *Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind          Kind
		Source        string       `json:",omitempty"`
		MountPath     respath.Path `json:",omitempty"`
		Query         string       `json:",omitempty"`
		OperationName string       `json:",omitempty"`
		Requires      []string     `json:",omitempty"`
		Typename      string       `json:",omitempty"`
		KeyFields     []string     `json:",omitempty"`
		KeysFrom      respath.Path `json:",omitempty"`
		Steps         []*Step      `json:",omitempty"`
	}{
		Kind:          s.Kind,
		Source:        s.Source,
		MountPath:     s.MountPath,
		Query:         format.DebugFormatSelectionSetWithArgs(s.SelectionSet),
		OperationName: s.OperationName,
		Requires:      s.Requires,
		Typename:      s.Typename,
		KeyFields:     s.KeyFields,
		KeysFrom:      s.KeysFrom,
		Steps:         s.Steps,
	})
}

// SetComputedValues fills SelectionSet from QueryString or the other way round,
// and VariablesList. It triggers SetComputedValues on child steps
func (s *Step) SetComputedValues() error {
	for _, child := range s.Steps {
		if child == nil {
			continue
		}
		if err := child.SetComputedValues(); err != nil {
			return err
		}
	}

	if !s.IsLeaf() {
		return nil
	}

	if len(s.SelectionSet) == 0 && s.QueryString != "" {
		sel, opName, err := parseSelectionSet(s.QueryString)
		if err != nil {
			return fmt.Errorf("step of %s: %w", s.Source, err)
		}
		s.SelectionSet = sel
		if s.OperationName == "" {
			s.OperationName = opName
		}
	}

	s.setVariablesList()

	if s.Kind == KindEntityBatch {
		s.QueryString = format.FormatEntitiesQuery(s.Typename, s.SelectionSet, s.VariableTypes, nil)
		return nil
	}

	if s.QueryString == "" {
		s.QueryString = format.FormatQuery(s.SelectionSet, s.VariableTypes, lo.Ternary(s.OperationName == "", nil, &s.OperationName))
	}
	return nil
}

func (s *Step) setVariablesList() {
	args := lo.Uniq(getVariablesList(s.SelectionSet))
	if len(args) == 0 {
		args = nil
	}
	s.VariablesList = args
}

func getVariablesList(s ast.SelectionSet) []string {
	var args []string
	for _, f := range common.SelectionSetToFields(s, nil) {
		for _, a := range f.Arguments {
			args = append(args, valueVariables(a.Value)...)
		}

		if f.SelectionSet != nil {
			args = append(args, getVariablesList(f.SelectionSet)...)
		}
	}
	return args
}

func valueVariables(v *ast.Value) []string {
	if v == nil {
		return nil
	}
	if v.Kind == ast.Variable {
		return []string{v.Raw}
	}
	var res []string
	for _, c := range v.Children {
		res = append(res, valueVariables(c.Value)...)
	}
	return res
}

// parseSelectionSet reads a query document with one operation, or a bare
// selection set, and inlines named fragments.
func parseSelectionSet(query string) (ast.SelectionSet, string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "step", Input: query})
	if err != nil {
		return nil, "", err
	}
	if len(doc.Operations) != 1 {
		return nil, "", fmt.Errorf("expected one operation, got %d", len(doc.Operations))
	}
	op := doc.Operations[0]
	if err := linkFragments(op.SelectionSet, doc.Fragments); err != nil {
		return nil, "", err
	}
	return op.SelectionSet, op.Name, nil
}

func linkFragments(sel ast.SelectionSet, fragments ast.FragmentDefinitionList) error {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if err := linkFragments(s.SelectionSet, fragments); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if err := linkFragments(s.SelectionSet, fragments); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if s.Definition == nil {
				s.Definition = fragments.ForName(s.Name)
			}
			if s.Definition == nil {
				return fmt.Errorf("undefined fragment %q", s.Name)
			}
			if err := linkFragments(s.Definition.SelectionSet, fragments); err != nil {
				return err
			}
		}
	}
	return nil
}

// responseNames lists the response names selected directly by sel, through fragments.
func responseNames(sel ast.SelectionSet) []string {
	var res []string
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			res = append(res, responseName(s))
		case *ast.InlineFragment:
			res = append(res, responseNames(s.SelectionSet)...)
		case *ast.FragmentSpread:
			if s.Definition != nil {
				res = append(res, responseNames(s.Definition.SelectionSet)...)
			}
		}
	}
	return lo.Uniq(res)
}

// selectionAt follows response names down sel and returns the sub-selection.
func selectionAt(sel ast.SelectionSet, names []string) (ast.SelectionSet, bool) {
	cur := sel
	for _, name := range names {
		next, ok := childSelection(cur, name)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func childSelection(sel ast.SelectionSet, name string) (ast.SelectionSet, bool) {
	var res ast.SelectionSet
	found := false
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if responseName(s) == name {
				found = true
				res = append(res, s.SelectionSet...)
			}
		case *ast.InlineFragment:
			if sub, ok := childSelection(s.SelectionSet, name); ok {
				found = true
				res = append(res, sub...)
			}
		case *ast.FragmentSpread:
			if s.Definition == nil {
				continue
			}
			if sub, ok := childSelection(s.Definition.SelectionSet, name); ok {
				found = true
				res = append(res, sub...)
			}
		}
	}
	return res, found
}

func responseName(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// QueryPlan is a query execution plan
type QueryPlan struct {
	Root        *Step
	ScrubFields ScrubFields

	steps    []*Step
	ordinals map[*Step]int
}

// NewQueryPlan validates root, computes the steps' artifacts and numbers the
// steps in depth-first pre-order.
func NewQueryPlan(root *Step, scrub ScrubFields) (*QueryPlan, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	if err := root.SetComputedValues(); err != nil {
		return nil, err
	}

	qp := &QueryPlan{
		Root:        root,
		ScrubFields: scrub,
		ordinals:    make(map[*Step]int),
	}

	var walk func(s *Step)
	walk = func(s *Step) {
		qp.ordinals[s] = len(qp.steps)
		qp.steps = append(qp.steps, s)
		for _, child := range s.Steps {
			walk(child)
		}
	}
	walk(root)

	return qp, nil
}

// Steps returns every step in depth-first pre-order.
func (qp *QueryPlan) Steps() []*Step {
	return qp.steps
}

// Ordinal returns the pre-order number of s, -1 for foreign steps.
func (qp *QueryPlan) Ordinal(s *Step) int {
	i, ok := qp.ordinals[s]
	if !ok {
		return -1
	}
	return i
}

// Sources returns the distinct sources the plan talks to.
func (qp *QueryPlan) Sources() []string {
	return lo.Uniq(lo.FilterMap(qp.steps, func(s *Step, _ int) (string, bool) {
		return s.Source, s.IsLeaf()
	}))
}
