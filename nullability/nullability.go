// Package nullability answers "may this response position hold null?" for a
// validated client operation. The map is built once per request from the
// operation's selection set and never changes afterwards.
package nullability

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/buildbuildio/quarry/respath"
)

// Field is one selected response name together with its declared type.
type Field struct {
	name        string
	typ         *ast.Type
	conditional bool
	children    map[string]*Field
	order       []string
}

// Name returns the response name (alias if any).
func (f *Field) Name() string { return f.name }

// Type returns the declared type, nil when the selection carried no definition.
func (f *Field) Type() *ast.Type { return f.typ }

// Conditional reports whether the field is only selected under a type condition
// other than the enclosing type, so it may legitimately be absent.
func (f *Field) Conditional() bool { return f.conditional }

// IsLeaf reports whether the field has no sub-selection.
func (f *Field) IsLeaf() bool { return len(f.order) == 0 }

// Children returns sub-selected fields in selection order.
func (f *Field) Children() []*Field {
	res := make([]*Field, 0, len(f.order))
	for _, name := range f.order {
		res = append(res, f.children[name])
	}
	return res
}

// Child returns a sub-selected field by response name.
func (f *Field) Child(name string) (*Field, bool) {
	c, ok := f.children[name]
	return c, ok
}

func (f *Field) child(name string) *Field {
	if f.children == nil {
		f.children = make(map[string]*Field)
	}
	c, ok := f.children[name]
	if !ok {
		c = &Field{name: name}
		f.children[name] = c
		f.order = append(f.order, name)
	}
	return c
}

type override struct {
	pattern  respath.Path
	nullable bool
}

// Map is the nullability of every position of one operation's response.
type Map struct {
	root      *Field
	overrides []override
}

type Option func(*Map)

// WithOverride forces the nullability of positions matching pattern. Later
// overrides win over earlier ones.
func WithOverride(pattern respath.Path, nullable bool) Option {
	return func(m *Map) {
		m.overrides = append(m.overrides, override{pattern: pattern, nullable: nullable})
	}
}

// WithOverrides parses dotted patterns, f.e. {"viewer.userId": false, "reviews.*": true}.
// Where patterns overlap, the one with fewer wildcards wins, so "reviews.1"
// beats "reviews.*". Equally specific patterns apply in lexical order.
func WithOverrides(patterns map[string]bool) (Option, error) {
	type parsed struct {
		raw      string
		pattern  respath.Path
		wildcard int
	}

	list := make([]parsed, 0, len(patterns))
	for raw := range patterns {
		p, err := respath.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid nullability override %q: %w", raw, err)
		}
		entry := parsed{raw: raw, pattern: p}
		for _, seg := range p {
			if seg.IsAny() {
				entry.wildcard++
			}
		}
		list = append(list, entry)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].wildcard != list[j].wildcard {
			return list[i].wildcard > list[j].wildcard
		}
		return list[i].raw < list[j].raw
	})

	opts := lo.Map(list, func(p parsed, _ int) Option { return WithOverride(p.pattern, patterns[p.raw]) })
	return func(m *Map) {
		for _, opt := range opts {
			opt(m)
		}
	}, nil
}

// Build walks a selection set. Fields without a Definition are treated as nullable.
func Build(sel ast.SelectionSet, opts ...Option) *Map {
	return build(sel, "", opts...)
}

// FromOperation builds the map of a validated operation.
func FromOperation(schema *ast.Schema, op *ast.OperationDefinition, opts ...Option) *Map {
	rootType := ""
	if schema != nil {
		var def *ast.Definition
		switch op.Operation {
		case ast.Mutation:
			def = schema.Mutation
		case ast.Subscription:
			def = schema.Subscription
		default:
			def = schema.Query
		}
		if def != nil {
			rootType = def.Name
		}
	}
	return build(op.SelectionSet, rootType, opts...)
}

// FromSource loads the schema SDL, validates the query against it and builds
// the map of the named operation. An empty name selects the only operation.
func FromSource(sdl, query, operationName string, opts ...Option) (*Map, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	doc, errs := gqlparser.LoadQuery(schema, query)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load query: %w", errs)
	}

	var op *ast.OperationDefinition
	if operationName == "" {
		if len(doc.Operations) != 1 {
			return nil, fmt.Errorf("operation name is required when the document has %d operations", len(doc.Operations))
		}
		op = doc.Operations[0]
	} else {
		op = doc.Operations.ForName(operationName)
		if op == nil {
			return nil, fmt.Errorf("operation %q not found", operationName)
		}
	}

	return FromOperation(schema, op, opts...), nil
}

func build(sel ast.SelectionSet, rootType string, opts ...Option) *Map {
	m := &Map{root: &Field{}}
	m.root.add(sel, rootType, false)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (f *Field) add(sel ast.SelectionSet, parentType string, conditional bool) {
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			name := s.Alias
			if name == "" {
				name = s.Name
			}
			_, existed := f.children[name]
			c := f.child(name)
			if !existed {
				c.conditional = conditional
			} else if !conditional {
				c.conditional = false
			}
			typeName := ""
			if s.Definition != nil {
				if c.typ == nil {
					c.typ = s.Definition.Type
				}
				typeName = s.Definition.Type.Name()
			}
			c.add(s.SelectionSet, typeName, false)
		case *ast.InlineFragment:
			f.add(s.SelectionSet, parentType, conditional || isConditional(s.TypeCondition, parentType))
		case *ast.FragmentSpread:
			if s.Definition != nil {
				f.add(s.Definition.SelectionSet, parentType, conditional || isConditional(s.Definition.TypeCondition, parentType))
			}
		}
	}
}

func isConditional(typeCondition, parentType string) bool {
	return typeCondition != "" && typeCondition != parentType
}

// Lookup returns the selected field addressed by p, skipping list indexes.
func (m *Map) Lookup(p respath.Path) (*Field, bool) {
	cur := m.root
	for _, seg := range p {
		if !seg.IsField() {
			continue
		}
		c, ok := cur.children[seg.Name]
		if !ok {
			return nil, false
		}
		cur = c
	}
	return cur, true
}

// Root returns the operation level selection.
func (m *Map) Root() *Field { return m.root }

// Nullable reports whether the position p may hold null. Index segments
// address list items and use the item type. Unknown positions are nullable.
func (m *Map) Nullable(p respath.Path) bool {
	for i := len(m.overrides) - 1; i >= 0; i-- {
		if p.Matches(m.overrides[i].pattern) {
			return m.overrides[i].nullable
		}
	}

	if p.IsRoot() {
		return true
	}

	cur := m.root
	var typ *ast.Type
	for _, seg := range p {
		switch {
		case seg.IsField():
			c, ok := cur.children[seg.Name]
			if !ok {
				return true
			}
			cur = c
			typ = c.typ
		default:
			if typ == nil || typ.Elem == nil {
				return true
			}
			typ = typ.Elem
		}
	}

	if typ == nil {
		return true
	}
	return !typ.NonNull
}

// IsList reports whether the position p is declared as a list.
func (m *Map) IsList(p respath.Path) bool {
	cur := m.root
	var typ *ast.Type
	for _, seg := range p {
		if seg.IsField() {
			c, ok := cur.children[seg.Name]
			if !ok {
				return false
			}
			cur = c
			typ = c.typ
			continue
		}
		if typ == nil || typ.Elem == nil {
			return false
		}
		typ = typ.Elem
	}
	return typ != nil && typ.Elem != nil
}
