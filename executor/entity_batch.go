package executor

import (
	"context"
	"log/slog"

	"github.com/buildbuildio/quarry/batcher"
	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/logging"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/requests"
	"github.com/buildbuildio/quarry/respath"
)

// entityBatch reads keys at step.KeysFrom in the scope tree and loads the
// entities through the batcher. Every key gets its own PartialResult.
func (r *run) entityBatch(ctx context.Context, step *planner.Step, ordinal int, scope Scope) (*outcome, error) {
	logger := logging.FromContext(ctx).With(
		slog.String("source", step.Source),
		slog.String("typename", step.Typename),
		slog.Int("step", ordinal),
	)
	out := &outcome{}

	var reqs []batcher.Request
	var skipped []propagator.Fault
	tree := scope.Tree()

	for _, p := range tree.Expand(step.KeysFrom) {
		obj, _ := tree.Lookup(p)
		if !obj.IsObject() {
			continue
		}
		if tn, ok := obj.Get(common.TypenameFieldName); ok && tn.IsScalar() && tn.Value() != step.Typename {
			// another member of an abstract type
			continue
		}

		rep, ok := representation(step, obj)
		if !ok {
			// the key can't be built, so the entity can't be found
			skipped = append(skipped, propagator.Fault{Path: p, Step: ordinal, Direct: true})
			continue
		}
		reqs = append(reqs, batcher.Request{Path: p, Representation: rep})
	}

	if len(skipped) > 0 {
		out.partials = append(out.partials, &PartialResult{Ordinal: ordinal, Faults: skipped})
	}
	if len(reqs) == 0 {
		logger.DebugContext(ctx, "no keys to load", slog.String("keys_from", step.KeysFrom.String()))
		return out, nil
	}

	vars, missing := bindVariables(step, scope)
	if len(missing) > 0 {
		logger.DebugContext(ctx, "skipping step with failed dependencies", slog.Any("variables", missing))
		for _, req := range reqs {
			out.partials = append(out.partials, &PartialResult{
				Ordinal: ordinal,
				Mount:   req.Path,
				Faults:  []propagator.Fault{{Path: req.Path, Step: ordinal}},
			})
		}
		return out, nil
	}

	template := requests.NewRequest(step.QueryString, vars).WithOperationName(step.OperationName)
	key := batcher.Key{Source: step.Source, Typename: step.Typename, FieldSet: step.FieldSet()}

	results, err := r.batcher.Load(ctx, key, template, reqs)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		partial := &PartialResult{Ordinal: ordinal, Mount: res.Path, Data: res.Data}
		located := false
		for _, e := range res.Errors {
			p, ok := e.ResponsePath()
			if !ok {
				p = respath.Root
			}
			located = located || ok
			partial.Faults = append(partial.Faults, propagator.Fault{Path: p, Error: e, Step: ordinal})
		}
		if res.Failed {
			logger.WarnContext(ctx, "entity batch failed", slog.String("path", res.Path.String()), slog.String("error", res.Errors.Error()))
		}
		if res.Data == nil && !located {
			// not found
			partial.Faults = append(partial.Faults, propagator.Fault{Path: res.Path, Step: ordinal, Direct: true})
		}
		out.partials = append(out.partials, partial)
	}

	return out, nil
}

// representation builds the _entities representation of obj. It fails when a
// key field is missing or null.
func representation(step *planner.Step, obj *node.Node) (batcher.Representation, bool) {
	rep := batcher.Representation{common.TypenameFieldName: step.Typename}
	for _, f := range step.KeyFields {
		v, ok := obj.Get(f)
		if !ok || v.IsNull() || v.IsPending() {
			return nil, false
		}
		rep[f] = v.Interface()
	}
	return rep, true
}
