package executor

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	"github.com/buildbuildio/quarry/format"
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/logging"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/requests"
	"github.com/buildbuildio/quarry/respath"
)

func (r *run) resolve(ctx context.Context, step *planner.Step, ordinal int, scope Scope) (*outcome, error) {
	logger := logging.FromContext(ctx).With(
		slog.String("source", step.Source),
		slog.Int("step", ordinal),
	)
	mount := step.Mount()
	names := step.ResponseNames()
	out := &outcome{}

	vars, missing := bindVariables(step, scope)
	if len(missing) > 0 {
		logger.DebugContext(ctx, "skipping step with failed dependencies", slog.Any("variables", missing))

		data := node.Object()
		for _, name := range names {
			data.Set(name, node.Pending())
		}
		out.partials = append(out.partials, &PartialResult{
			Ordinal: ordinal,
			Mount:   mount,
			Data:    data,
			Faults: lo.Map(requested(mount, names), func(p respath.Path, _ int) propagator.Fault {
				return propagator.Fault{Path: p, Step: ordinal}
			}),
		})
		out.failed = exportNames(step)
		return out, nil
	}

	req := requests.NewRequest(step.QueryString, vars).WithOperationName(step.OperationName)
	logger.DebugContext(ctx, "resolving step", slog.String("mount", mount.String()))

	resps, err := r.query(ctx, step.Source, []*requests.Request{req})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.WarnContext(ctx, "source request failed", slog.String("error", err.Error()))

		out.partials = append(out.partials, &PartialResult{
			Ordinal: ordinal,
			Mount:   mount,
			Faults: lo.Map(requested(mount, names), func(p respath.Path, _ int) propagator.Fault {
				return propagator.Fault{
					Path:  p,
					Error: gqlerrors.New(gqlerrors.TransportError, err.Error(), p, step.Source),
					Step:  ordinal,
				}
			}),
		})
		out.failed = exportNames(step)
		return out, nil
	}

	resp := resps[0]
	partial := &PartialResult{Ordinal: ordinal, Mount: mount, Data: resp.Data}
	partial.Faults = sourceFaults(resp.Errors, mount, step.Source, ordinal)

	if !resp.Data.IsObject() {
		// a source nulls its whole data when a non-null root field fails
		partial.Data = nil
		for _, p := range requested(mount, names) {
			partial.Faults = append(partial.Faults, propagator.Fault{Path: p, Step: ordinal, Direct: true})
		}
	}
	out.partials = append(out.partials, partial)

	for _, e := range step.Exports {
		v, ok := resp.Data.Lookup(e.Path)
		if !ok || v.IsNull() || v.IsPending() {
			logger.DebugContext(ctx, "export has no value", slog.String("variable", e.Variable), slog.String("path", e.Path.String()))
			out.failed = append(out.failed, e.Variable)
			continue
		}
		if out.exports == nil {
			out.exports = make(map[string]interface{})
		}
		out.exports[e.Variable] = v.Interface()
	}

	return out, nil
}

// sourceFaults locates the errors a source returned for data mounted at mount.
// Pathless errors are reported without nulling anything.
func sourceFaults(errs gqlerrors.ErrorList, mount respath.Path, source string, ordinal int) []propagator.Fault {
	return lo.Map(errs, func(e *gqlerrors.Error, _ int) propagator.Fault {
		e = e.WithDefaultCode(gqlerrors.FieldError)
		e.Source = source

		p, ok := e.ResponsePath()
		if !ok {
			return propagator.Fault{Path: respath.Root, Error: e, Step: ordinal}
		}
		abs := mount.Join(p)
		return propagator.Fault{Path: abs, Error: e.WithPath(abs), Step: ordinal}
	})
}

// bindVariables collects the values a step sends: its fixed variables first,
// then whatever the scope holds for the variables it uses. missing lists the
// variables the step depends on whose producers failed or never ran.
func bindVariables(step *planner.Step, scope Scope) (map[string]interface{}, []string) {
	vars := lo.Assign(step.Variables)
	var missing []string

	names := lo.Uniq(append(append([]string(nil), step.Requires...), step.VariablesList...))
	for _, name := range names {
		if name == format.RepresentationsVariable {
			continue
		}
		if _, ok := vars[name]; ok {
			continue
		}
		if scope.Failed(name) {
			missing = append(missing, name)
			continue
		}
		if v, ok := scope.Variable(name); ok {
			vars[name] = v
			continue
		}
		if lo.Contains(step.Requires, name) {
			missing = append(missing, name)
		}
	}

	return vars, missing
}
