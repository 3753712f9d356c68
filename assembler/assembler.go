// Package assembler turns the propagated response tree into the {data, errors}
// document sent to the client.
package assembler

import (
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/nullability"
	"github.com/buildbuildio/quarry/planner"
)

// Response is the final GraphQL response. Errors is omitted when empty.
type Response struct {
	Data   *node.Node          `json:"data"`
	Errors gqlerrors.ErrorList `json:"errors,omitempty"`
}

type Assembler struct {
	nullability *nullability.Map
	scrub       planner.ScrubFields
}

type Option func(*Assembler)

// WithScrubFields removes the helper fields a plan selected for joining steps.
func WithScrubFields(sf planner.ScrubFields) Option {
	return func(a *Assembler) { a.scrub = sf }
}

func New(m *nullability.Map, opts ...Option) *Assembler {
	a := &Assembler{nullability: m}
	for _, opt := range opts {
		opt(a)
	}
	if a.nullability == nil {
		a.nullability = nullability.Build(nil)
	}
	return a
}

// Assemble builds the response. root is consumed: helper fields are removed
// from it in place. Pending positions become null, selected fields nobody
// wrote are added as null and object fields follow selection order.
func (a *Assembler) Assemble(root *node.Node, errs gqlerrors.ErrorList) *Response {
	resp := &Response{Errors: errs.Dedupe()}

	if !root.IsObject() {
		resp.Data = node.Null()
		return resp
	}

	a.scrub.Clean(root)
	resp.Data = finalize(root, a.nullability.Root())
	return resp
}

func finalize(n *node.Node, f *nullability.Field) *node.Node {
	switch {
	case n.IsNull() || n.IsPending():
		return node.Null()
	case n.IsList():
		items := make([]*node.Node, 0, n.Len())
		for _, item := range n.Items() {
			items = append(items, finalize(item, f))
		}
		return node.List(items...)
	case n.IsObject():
		return finalizeObject(n, f)
	default:
		return n
	}
}

func finalizeObject(n *node.Node, f *nullability.Field) *node.Node {
	out := node.Object()
	selected := make(map[string]struct{})

	if f != nil {
		for _, c := range f.Children() {
			selected[c.Name()] = struct{}{}
			v, ok := n.Get(c.Name())
			if !ok {
				if !c.Conditional() {
					out.Set(c.Name(), node.Null())
				}
				continue
			}
			out.Set(c.Name(), finalize(v, c))
		}
	}

	// fields the selection doesn't know about keep their written order
	for _, key := range n.Keys() {
		if _, ok := selected[key]; ok {
			continue
		}
		v, _ := n.Get(key)
		out.Set(key, finalize(v, nil))
	}

	return out
}
