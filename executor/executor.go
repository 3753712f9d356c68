// Package executor walks a query plan and collects what every step produced.
//
// Each step kind has one execution function, selected in execute. Steps never
// write into a shared tree: they return PartialResults which are merged and
// null-propagated once the whole plan has run.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildbuildio/quarry/batcher"
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/logging"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/queryer"
	"github.com/buildbuildio/quarry/requests"
	"github.com/buildbuildio/quarry/respath"
)

// PartialResult is the output of one leaf step at one mount point.
type PartialResult struct {
	// Ordinal of the step in the plan.
	Ordinal int
	Mount   respath.Path
	// Data is relative to Mount. nil when the step produced nothing there.
	Data   *node.Node
	Faults []propagator.Fault
}

// Errors returns the errors carried by the faults of r.
func (r *PartialResult) Errors() gqlerrors.ErrorList {
	return lo.FilterMap(r.Faults, func(f propagator.Fault, _ int) (*gqlerrors.Error, bool) {
		return f.Error, f.Error != nil
	})
}

type Executor struct {
	registry queryer.Registry
	metrics  *observability.Metrics
}

type Option func(*Executor)

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(registry queryer.Registry, opts ...Option) *Executor {
	e := &Executor{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan and returns the partial results in plan order. The
// only errors are fatal ones: a cancelled context, merge conflicts between
// sequence steps and plans naming unknown steps.
func (e *Executor) Execute(ctx context.Context, plan *planner.QueryPlan, scope Scope) ([]*PartialResult, error) {
	r := &run{Executor: e, plan: plan}
	r.batcher = batcher.New(ctx, r.query,
		batcher.WithMetrics(e.metrics),
		batcher.WithLogger(logging.FromContext(ctx).Logger),
	)

	out, err := r.execute(ctx, plan.Root, scope)
	if err != nil {
		return nil, err
	}
	// a step finishing after cancellation may still have returned cleanly
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out.partials, nil
}

// run holds the state of one plan execution.
type run struct {
	*Executor
	plan    *planner.QueryPlan
	batcher *batcher.Batcher
}

// outcome is what a step hands to the step that ran it.
type outcome struct {
	partials []*PartialResult
	exports  map[string]interface{}
	failed   []string
}

func (o *outcome) add(other *outcome) {
	o.partials = append(o.partials, other.partials...)
	if len(other.exports) > 0 {
		o.exports = lo.Assign(o.exports, other.exports)
	}
	o.failed = append(o.failed, other.failed...)
}

func (r *run) execute(ctx context.Context, step *planner.Step, scope Scope) (*outcome, error) {
	ordinal := r.plan.Ordinal(step)
	ctx, span := observability.StartSpan(ctx, "quarry.step."+string(step.Kind),
		attribute.Int("quarry.step.ordinal", ordinal),
		attribute.String("quarry.source", step.Source),
	)

	var out *outcome
	var err error
	switch step.Kind {
	case planner.KindResolve:
		out, err = r.resolve(ctx, step, ordinal, scope)
	case planner.KindSequence:
		out, err = r.sequence(ctx, step, scope)
	case planner.KindParallel:
		out, err = r.parallel(ctx, step, scope)
	case planner.KindEntityBatch:
		out, err = r.entityBatch(ctx, step, ordinal, scope)
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
	}

	observability.FinishSpan(span, err)
	return out, err
}

// query sends reqs to source in one round trip. It serves resolve steps and
// the batcher, which hands over every entity batch of a tick for a source at once.
func (r *run) query(ctx context.Context, source string, reqs []*requests.Request) ([]*requests.Response, error) {
	q, err := r.registry.Get(source)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "quarry.source",
		attribute.String("quarry.source", source),
		attribute.Int("quarry.requests", len(reqs)),
	)
	start := time.Now()

	resps, err := q.Query(ctx, reqs)
	switch {
	case err != nil:
	case len(resps) != len(reqs):
		err = fmt.Errorf("%s answered %d responses for %d requests", source, len(resps), len(reqs))
	case lo.Contains(resps, nil):
		err = fmt.Errorf("%s answered no response", source)
	}

	r.metrics.RecordSourceRequest(ctx, source, time.Since(start), err)
	observability.FinishSpan(span, err)
	if err != nil {
		return nil, err
	}
	return resps, nil
}

// requested returns the positions a leaf step at mount fills for names.
func requested(mount respath.Path, names []string) []respath.Path {
	return lo.Map(names, func(name string, _ int) respath.Path { return mount.Field(name) })
}

func exportNames(step *planner.Step) []string {
	return lo.Map(step.Exports, func(e planner.Export, _ int) string { return e.Variable })
}
