package executor

import (
	"context"

	"github.com/samber/lo"

	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/planner"
)

// sequence runs children in order. Each child sees the tree and variables
// produced by the ones before it. A failed child doesn't stop the sequence:
// steps depending on it find failed variables or no keys and skip their
// requests themselves.
func (r *run) sequence(ctx context.Context, step *planner.Step, scope Scope) (*outcome, error) {
	out := &outcome{}
	cur := scope

	for _, child := range step.Steps {
		res, err := r.execute(ctx, child, cur)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tree, err := cur.merge(res.partials)
		if err != nil {
			return nil, err
		}
		cur = cur.With(res.exports, res.failed, tree)
		out.add(res)
	}

	return out, nil
}

type childOutcome struct {
	index int
	out   *outcome
	err   error
}

// parallel runs children concurrently on the same scope. Results keep the
// child order no matter which child finished first.
func (r *run) parallel(ctx context.Context, step *planner.Step, scope Scope) (*outcome, error) {
	if len(step.Steps) == 0 {
		return &outcome{}, nil
	}

	group := r.batcher.Fork(len(step.Steps))

	// errors travel inside childOutcome to keep their type
	children, _ := common.AsyncMapReduce(
		lo.Range(len(step.Steps)),
		make([]childOutcome, len(step.Steps)),
		func(i int) (childOutcome, error) {
			defer group.Done()
			out, err := r.execute(ctx, step.Steps[i], scope)
			return childOutcome{index: i, out: out, err: err}, nil
		},
		func(acc []childOutcome, c childOutcome) []childOutcome {
			acc[c.index] = c
			return acc
		},
	)

	out := &outcome{}
	for _, c := range children {
		if c.err != nil {
			return nil, c.err
		}
		out.add(c.out)
	}
	return out, nil
}
