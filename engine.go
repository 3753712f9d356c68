// Package quarry executes federated query plans: it runs the plan's steps
// against the sources, merges what they returned and applies GraphQL null
// propagation to produce the client response.
package quarry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/buildbuildio/quarry/assembler"
	"github.com/buildbuildio/quarry/executor"
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/logging"
	"github.com/buildbuildio/quarry/merger"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/nullability"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/queryer"
	"github.com/buildbuildio/quarry/respath"
)

// Request is one execution: a validated plan, the nullability of the client
// operation and the client variables.
type Request struct {
	Plan        *planner.QueryPlan
	Nullability *nullability.Map
	Variables   map[string]interface{}
}

// Result is the client response.
type Result = assembler.Response

type Engine struct {
	registry   queryer.Registry
	metrics    *observability.Metrics
	logger     *logging.Logger
	timeout    time.Duration
	nonNull    propagator.NonNullPolicy
	leafErrors propagator.LeafErrorPolicy
}

type EngineOption func(*Engine)

func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTimeout bounds every execution. Zero means no bound besides the caller's context.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

func WithNonNullPolicy(p propagator.NonNullPolicy) EngineOption {
	return func(e *Engine) {
		e.nonNull = p
	}
}

func WithLeafErrorPolicy(p propagator.LeafErrorPolicy) EngineOption {
	return func(e *Engine) {
		e.leafErrors = p
	}
}

func NewEngine(registry queryer.Registry, options ...EngineOption) *Engine {
	e := &Engine{
		registry:   registry,
		nonNull:    propagator.NonNullIgnore,
		leafErrors: propagator.LeafErrorsReport,
	}

	for _, optionFunc := range options {
		optionFunc(e)
	}

	if e.logger == nil {
		e.logger = logging.Nop()
	}

	return e
}

// Execute runs req. Source failures end up in the result as errors; the
// returned error is reserved for fatal conditions: an invalid request, a merge
// conflict or a cancelled context.
func (e *Engine) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Plan == nil || req.Plan.Root == nil {
		return nil, errors.New("request has no plan")
	}
	for _, source := range req.Plan.Sources() {
		if _, err := e.registry.Get(source); err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
	}

	ctx, requestID := logging.EnsureRequestID(ctx)
	logger := e.logger.WithRequestID(requestID)
	ctx = logging.WithLogger(ctx, logger)
	ctx = observability.ContextWithMetrics(ctx, e.metrics)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, "quarry.execute",
		attribute.String("quarry.request_id", requestID),
		attribute.Int("quarry.plan.steps", len(req.Plan.Steps())),
	)
	start := time.Now()

	res, err := e.execute(ctx, req)
	observability.FinishSpan(span, err)
	if err != nil {
		var conflict *merger.ConflictError
		if errors.As(err, &conflict) {
			logger.ErrorContext(ctx, "merge conflict", slog.String("path", conflict.Path.String()))
		} else {
			logger.WarnContext(ctx, "execution failed", slog.String("error", err.Error()))
		}
		return nil, err
	}

	e.metrics.RecordRequest(ctx, time.Since(start), res.Data.IsNull(), len(res.Errors))
	e.metrics.RecordErrors(ctx, lo.Map(res.Errors, func(err *gqlerrors.Error, _ int) string { return err.Code() }))
	logger.DebugContext(ctx, "execution finished",
		slog.Duration("duration", time.Since(start)),
		slog.Int("errors", len(res.Errors)),
		slog.Bool("data_null", res.Data.IsNull()),
	)

	return res, nil
}

func (e *Engine) execute(ctx context.Context, req *Request) (*Result, error) {
	partials, err := executor.New(e.registry, executor.WithMetrics(e.metrics)).
		Execute(ctx, req.Plan, executor.NewScope(req.Variables))
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	root := node.Object()
	var faults []propagator.Fault
	for _, p := range partials {
		if p.Data != nil {
			root, err = merger.Merge(root, p.Data, p.Mount)
			if err != nil {
				return nil, fmt.Errorf("merge step %d: %w", p.Ordinal, err)
			}
		}
		faults = append(faults, p.Faults...)
	}
	sortFaults(faults)

	root, errs := propagator.New(req.Nullability,
		propagator.WithCoverage(req.Plan.Coverage()),
		propagator.WithNonNullPolicy(e.nonNull),
		propagator.WithLeafErrorPolicy(e.leafErrors),
		propagator.WithMetrics(e.metrics),
		propagator.WithLogger(logging.FromContext(ctx).Logger),
	).Run(ctx, root, faults)

	return assembler.New(req.Nullability, assembler.WithScrubFields(req.Plan.ScrubFields)).Assemble(root, errs), nil
}

// sortFaults orders faults by step, then depth-first by path with pathless
// ones first, so errors are reported in discovery order.
func sortFaults(faults []propagator.Fault) {
	sort.SliceStable(faults, func(i, j int) bool {
		a, b := faults[i], faults[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return respath.Compare(a.Path, b.Path) < 0
	})
}
