// Package propagator applies GraphQL null bubbling to a merged response tree.
//
// Every fault names a position that must become null. A nullable position
// absorbs the null, a non-null one passes it to its parent, and when the root
// is reached the whole data becomes null. Each error is recorded once, at the
// position it was reported for, no matter how far the null travels.
package propagator

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/nullability"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/respath"
)

// Fault is a position that has to be null.
type Fault struct {
	Path respath.Path
	// Error is recorded once. Inherited and not-found faults carry none.
	Error *gqlerrors.Error
	// Step is the ordinal of the plan step the fault came from.
	Step int
	// Direct faults null Path itself and are never pushed down to child fields.
	// Without an Error they stand for a null the source gave on its own, like an
	// entity that wasn't found, and stay where they are: only the NonNullReport
	// policy moves such a null up.
	Direct bool
}

// Coverage tells which plan steps contribute which positions.
type Coverage interface {
	// Shared reports whether a step other than step writes at or below p.
	Shared(step int, p respath.Path) bool
	// Children returns the response names step selects directly below p.
	Children(step int, p respath.Path) []string
}

// NonNullPolicy decides what happens to nulls a source returned without an
// error at positions the client declared non-null.
type NonNullPolicy string

const (
	NonNullIgnore NonNullPolicy = "ignore"
	NonNullReport NonNullPolicy = "report"
)

// LeafErrorPolicy decides whether transport errors landing on a nullable leaf are reported.
type LeafErrorPolicy string

const (
	LeafErrorsReport   LeafErrorPolicy = "report"
	LeafErrorsSuppress LeafErrorPolicy = "suppress"
)

type Propagator struct {
	nullability *nullability.Map
	coverage    Coverage
	nonNull     NonNullPolicy
	leafErrors  LeafErrorPolicy
	metrics     *observability.Metrics
	logger      *slog.Logger
}

type Option func(*Propagator)

func WithCoverage(c Coverage) Option {
	return func(p *Propagator) { p.coverage = c }
}

func WithNonNullPolicy(policy NonNullPolicy) Option {
	return func(p *Propagator) { p.nonNull = policy }
}

func WithLeafErrorPolicy(policy LeafErrorPolicy) Option {
	return func(p *Propagator) { p.leafErrors = policy }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Propagator) { p.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) { p.logger = l }
}

func New(m *nullability.Map, opts ...Option) *Propagator {
	p := &Propagator{
		nullability: m,
		nonNull:     NonNullIgnore,
		leafErrors:  LeafErrorsReport,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.nullability == nil {
		p.nullability = nullability.Build(nil)
	}
	return p
}

// Run applies faults in order and returns the resulting root together with
// the deduplicated errors in discovery order. root is modified in place.
func (p *Propagator) Run(ctx context.Context, root *node.Node, faults []Fault) (*node.Node, gqlerrors.ErrorList) {
	var errs gqlerrors.ErrorList
	nulled := 0

	for _, f := range faults {
		for _, pf := range p.pushDown(root, f) {
			if pf.Error != nil && !p.suppressed(pf) {
				errs = append(errs, pf.Error)
			}
			if pf.Path.IsRoot() {
				// pathless errors are reported without nulling anything
				continue
			}
			if pf.Direct && pf.Error == nil {
				if setNull(root, pf.Path) {
					nulled++
				}
				continue
			}
			var n int
			root, n = p.nullify(root, pf.Path)
			nulled += n
		}
	}

	if p.nonNull == NonNullReport && !root.IsNull() {
		for _, v := range p.violations(root) {
			errs = append(errs, gqlerrors.New(gqlerrors.NonNullViolationError,
				"Cannot return null for non-nullable field", v, ""))
			var n int
			root, n = p.nullify(root, v)
			nulled += n
		}
	}

	p.metrics.RecordPropagatedNulls(ctx, int64(nulled))
	if root.IsNull() && len(faults) > 0 {
		p.logger.DebugContext(ctx, "null reached the response root")
	}

	return root, errs.Dedupe()
}

// nullify sets p to null and walks up while the nulled position is non-null.
// It stops when an ancestor is already null or missing, and never pads lists.
func (p *Propagator) nullify(root *node.Node, path respath.Path) (*node.Node, int) {
	count := 0
	cur := path
	for {
		if cur.IsRoot() {
			return node.Null(), count + 1
		}
		if !setNull(root, cur) {
			return root, count
		}
		count++

		if p.nullability.Nullable(cur) {
			return root, count
		}
		cur = cur.Parent()
	}
}

// setNull nulls the position at path, adding a missing field to its object.
// It reports false when the parent is absent, null, pending or of the wrong
// kind, or when a list index is out of range.
func setNull(root *node.Node, path respath.Path) bool {
	parent, ok := root.Lookup(path.Parent())
	if !ok || parent.IsNull() || parent.IsPending() {
		return false
	}

	last, _ := path.Last()
	switch {
	case last.IsField():
		if !parent.IsObject() {
			return false
		}
		if child, ok := parent.Get(last.Name); ok {
			child.SetNull()
		} else {
			parent.Set(last.Name, node.Null())
		}
	case last.IsIndex():
		child, ok := parent.At(last.Index)
		if !ok {
			return false
		}
		child.SetNull()
	default:
		return false
	}
	return true
}

// pushDown moves a fault on an object shared with other steps to the fields
// the failing step contributed, so content authored by others survives.
func (p *Propagator) pushDown(root *node.Node, f Fault) []Fault {
	if f.Direct || p.coverage == nil || f.Path.IsRoot() {
		return []Fault{f}
	}
	if !p.coverage.Shared(f.Step, f.Path) {
		return []Fault{f}
	}

	target, ok := root.Lookup(f.Path)
	if !ok {
		return []Fault{f}
	}

	bases := objectPositions(target, f.Path)
	children := p.coverage.Children(f.Step, f.Path)
	if len(bases) == 0 || len(children) == 0 {
		return []Fault{f}
	}

	var res []Fault
	for _, base := range bases {
		for _, name := range children {
			child := Fault{Path: base.Field(name), Step: f.Step}
			if f.Error != nil {
				child.Error = f.Error.WithPath(child.Path)
			}
			res = append(res, p.pushDown(root, child)...)
		}
	}
	return res
}

// objectPositions returns the object positions at or inside (through lists) n.
func objectPositions(n *node.Node, at respath.Path) []respath.Path {
	switch n.Kind() {
	case node.KindObject:
		return []respath.Path{at}
	case node.KindList:
		var res []respath.Path
		for i, item := range n.Items() {
			res = append(res, objectPositions(item, at.Index(i))...)
		}
		return res
	}
	return nil
}

func (p *Propagator) suppressed(f Fault) bool {
	if p.leafErrors != LeafErrorsSuppress || f.Error.Code() != gqlerrors.TransportError || f.Path.IsRoot() {
		return false
	}
	field, ok := p.nullability.Lookup(f.Path)
	if !ok || !field.IsLeaf() {
		return false
	}
	return p.nullability.Nullable(f.Path)
}

// violations lists, depth first, the non-null positions that hold null
// without any fault having put it there.
func (p *Propagator) violations(root *node.Node) []respath.Path {
	var res []respath.Path

	var walk func(n *node.Node, field *nullability.Field, at respath.Path)
	walk = func(n *node.Node, field *nullability.Field, at respath.Path) {
		switch n.Kind() {
		case node.KindList:
			for i, item := range n.Items() {
				itemPath := at.Index(i)
				if item.IsNull() {
					if !p.nullability.Nullable(itemPath) {
						res = append(res, itemPath)
					}
					continue
				}
				walk(item, field, itemPath)
			}
		case node.KindObject:
			for _, child := range field.Children() {
				childPath := at.Field(child.Name())
				value, ok := n.Get(child.Name())
				if !ok && child.Conditional() {
					continue
				}
				if !ok || value.IsNull() {
					if !p.nullability.Nullable(childPath) {
						res = append(res, childPath)
					}
					continue
				}
				walk(value, child, childPath)
			}
		}
	}
	walk(root, p.nullability.Root(), respath.Root)

	return lo.UniqBy(res, func(p respath.Path) string { return p.String() })
}
