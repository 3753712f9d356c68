// Package batcher collects entity lookups issued by concurrently running plan
// steps and sends one _entities request per source and field set. All the
// requests a tick holds for one source travel in a single dispatch.
//
// Batching uses a tick barrier: the batcher knows how many tasks of the
// request are running, and flushes once every one of them either waits on
// the batcher or has finished.
package batcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/format"
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/requests"
	"github.com/buildbuildio/quarry/respath"
)

// Key groups loads that can share one request.
type Key struct {
	Source   string
	Typename string
	FieldSet string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s %s", k.Source, k.Typename, k.FieldSet)
}

// Representation is the typename plus key fields of one entity.
type Representation map[string]interface{}

// Request asks for the entity at Path.
type Request struct {
	Path           respath.Path
	Representation Representation
}

// Result answers one Request. Data is nil when the source did not return the
// entity. Errors are already located in the response.
type Result struct {
	Path   respath.Path
	Data   *node.Node
	Errors gqlerrors.ErrorList
	// Failed is set when the whole batch failed, Errors then holds the cause.
	Failed bool
}

// Dispatcher sends requests to a source in one round trip. Responses are
// positional.
type Dispatcher func(ctx context.Context, source string, reqs []*requests.Request) ([]*requests.Response, error)

type load struct {
	reqs    []Request
	results []Result
	done    chan struct{}
}

type batch struct {
	key      Key
	template *requests.Request
	loads    []*load

	// filled by prepare
	reps  []Representation
	index [][]int
}

type Batcher struct {
	ctx      context.Context
	dispatch Dispatcher
	metrics  *observability.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	active  int
	waiting int
	pending map[Key]*batch
	order   []Key
}

type Option func(*Batcher)

func WithMetrics(m *observability.Metrics) Option {
	return func(b *Batcher) { b.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Batcher) { b.logger = l }
}

// New returns a batcher for one request. The calling task counts as running.
// Batches are sent with ctx.
func New(ctx context.Context, dispatch Dispatcher, opts ...Option) *Batcher {
	b := &Batcher{
		ctx:      ctx,
		dispatch: dispatch,
		logger:   slog.New(slog.DiscardHandler),
		active:   1,
		pending:  make(map[Key]*batch),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Group tracks tasks started by Fork.
type Group struct {
	b         *Batcher
	remaining int
}

// Fork replaces the calling task by n concurrent tasks. Each of them must
// call Done once when it finishes; the caller is running again after the
// last Done.
func (b *Batcher) Fork(n int) *Group {
	g := &Group{b: b, remaining: n}
	if n == 0 {
		return g
	}

	b.mu.Lock()
	b.active += n - 1
	b.mu.Unlock()

	return g
}

// Done marks one forked task as finished.
func (g *Group) Done() {
	b := g.b
	b.mu.Lock()
	g.remaining--
	if g.remaining <= 0 {
		// the slot goes back to the task that forked
		b.mu.Unlock()
		return
	}
	b.active--
	flush := b.take()
	b.mu.Unlock()

	b.send(flush)
}

// Load queues reqs and waits for the tick to be flushed and answered.
// Results are positional. The only error is the context's.
func (b *Batcher) Load(ctx context.Context, key Key, template *requests.Request, reqs []Request) ([]Result, error) {
	l := &load{reqs: reqs, done: make(chan struct{})}

	b.mu.Lock()
	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{key: key, template: template}
		b.pending[key] = bt
		b.order = append(b.order, key)
	}
	bt.loads = append(bt.loads, l)
	b.waiting++
	flush := b.take()
	b.mu.Unlock()

	b.send(flush)

	select {
	case <-l.done:
		return l.results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// take empties the tick buffer when every running task waits. Callers hold mu.
func (b *Batcher) take() []*batch {
	if b.waiting < b.active || len(b.order) == 0 {
		return nil
	}

	res := lo.Map(b.order, func(k Key, _ int) *batch { return b.pending[k] })
	b.pending = make(map[Key]*batch)
	b.order = nil
	b.waiting = 0

	return res
}

// send dispatches the flushed batches, one round trip per source.
func (b *Batcher) send(batches []*batch) {
	if len(batches) == 0 {
		return
	}
	bySource := lo.GroupBy(batches, func(bt *batch) string { return bt.key.Source })
	sources := lo.Uniq(lo.Map(batches, func(bt *batch, _ int) string { return bt.key.Source }))
	for _, source := range sources {
		go b.run(source, bySource[source])
	}
}

func (b *Batcher) run(source string, batches []*batch) {
	ctx := b.ctx

	reqs := lo.Map(batches, func(bt *batch, _ int) *requests.Request { return b.prepare(ctx, bt) })
	b.logger.DebugContext(ctx, "dispatching entity batches",
		slog.String("source", source),
		slog.Int("batches", len(batches)),
	)

	resps, err := b.dispatch(ctx, source, reqs)
	if err == nil && len(resps) != len(reqs) {
		err = fmt.Errorf("%s answered %d responses for %d requests", source, len(resps), len(reqs))
	}

	for i, bt := range batches {
		var resp *requests.Response
		if err == nil {
			resp = resps[i]
		}
		b.finish(bt, resp, err)
	}
}

// prepare dedupes the representations of bt and builds its request.
func (b *Batcher) prepare(ctx context.Context, bt *batch) *requests.Request {
	bt.reps, bt.index = dedupe(bt.loads)
	total := lo.SumBy(bt.loads, func(l *load) int { return len(l.reqs) })
	b.metrics.RecordBatch(ctx, bt.key.Source, bt.key.Typename, len(bt.reps), total-len(bt.reps))
	b.logger.DebugContext(ctx, "entity batch",
		slog.String("source", bt.key.Source),
		slog.String("typename", bt.key.Typename),
		slog.Int("keys", total),
		slog.Int("representations", len(bt.reps)),
	)

	variables := lo.Assign(bt.template.Variables, map[string]interface{}{
		format.RepresentationsVariable: lo.Map(bt.reps, func(r Representation, _ int) interface{} { return map[string]interface{}(r) }),
	})
	req := requests.NewRequest(bt.template.Query, variables)
	req.OperationName = bt.template.OperationName
	return req
}

// finish demultiplexes resp to the loads of bt and wakes them up.
func (b *Batcher) finish(bt *batch, resp *requests.Response, err error) {
	source := bt.key.Source

	var entities []*node.Node
	var batchErr *gqlerrors.Error
	switch {
	case err != nil:
		batchErr = gqlerrors.New(gqlerrors.TransportError, err.Error(), nil, source)
	default:
		entities, batchErr = extract(resp, source, len(bt.reps))
	}

	var extra gqlerrors.ErrorList
	var located map[int][]entityError
	if resp != nil && batchErr == nil {
		located, extra = locate(resp.Errors, len(bt.reps), source)
	}

	for li, l := range bt.loads {
		l.results = make([]Result, len(l.reqs))
		for ri, r := range l.reqs {
			res := Result{Path: r.Path}
			if batchErr != nil {
				res.Failed = true
				res.Errors = gqlerrors.ErrorList{batchErr.WithPath(r.Path)}
				l.results[ri] = res
				continue
			}

			i := bt.index[li][ri]
			if i < len(entities) && !entities[i].IsNull() {
				res.Data = entities[i]
			}
			for _, le := range located[i] {
				res.Errors = append(res.Errors, le.err.WithPath(r.Path.Join(le.rel)))
			}
			res.Errors = append(res.Errors, extra...)
			l.results[ri] = res
		}
		close(l.done)
	}
}

// dedupe lists distinct representations in first-seen order and maps every
// request of every load to its position.
func dedupe(loads []*load) ([]Representation, [][]int) {
	var reps []Representation
	seen := make(map[string]int)
	index := make([][]int, len(loads))

	for li, l := range loads {
		index[li] = make([]int, len(l.reqs))
		for ri, r := range l.reqs {
			// encoding/json sorts map keys, so equal representations encode equally
			b, _ := json.Marshal(r.Representation)
			k := string(b)
			i, ok := seen[k]
			if !ok {
				i = len(reps)
				seen[k] = i
				reps = append(reps, r.Representation)
			}
			index[li][ri] = i
		}
	}
	return reps, index
}

// extract reads data._entities. A response that carries errors but no data
// is not a mismatch: the errors explain it. A shorter list leaves the missing
// entities not found, a longer one can't be matched to the keys sent.
func extract(resp *requests.Response, source string, sent int) ([]*node.Node, *gqlerrors.Error) {
	if resp == nil {
		return nil, gqlerrors.New(gqlerrors.BatchMismatchError, "source returned no response", nil, source)
	}
	if !resp.HasData() {
		if len(resp.Errors) > 0 {
			return nil, nil
		}
		return nil, gqlerrors.New(gqlerrors.BatchMismatchError, "source returned no data for _entities", nil, source)
	}
	list, ok := resp.Data.Get(common.EntitiesFieldName)
	if !ok || list.IsNull() {
		if len(resp.Errors) > 0 {
			return nil, nil
		}
		return nil, gqlerrors.New(gqlerrors.BatchMismatchError, "source returned no _entities", nil, source)
	}
	if !list.IsList() {
		return nil, gqlerrors.New(gqlerrors.BatchMismatchError, fmt.Sprintf("_entities is %s, expected a list", list.Kind()), nil, source)
	}
	if n := len(list.Items()); n > sent {
		return nil, gqlerrors.New(gqlerrors.BatchMismatchError, fmt.Sprintf("_entities holds %d items for %d representations", n, sent), nil, source)
	}
	for _, item := range list.Items() {
		if !item.IsNull() && !item.IsObject() {
			return nil, gqlerrors.New(gqlerrors.BatchMismatchError, fmt.Sprintf("_entities holds %s, expected objects", item.Kind()), nil, source)
		}
	}
	return list.Items(), nil
}

type entityError struct {
	err *gqlerrors.Error
	rel respath.Path
}

// locate splits source errors by _entities index, keeping their path relative
// to the entity. Errors that can't be tied to an entity become pathless.
func locate(errs gqlerrors.ErrorList, size int, source string) (map[int][]entityError, gqlerrors.ErrorList) {
	located := make(map[int][]entityError)
	var extra gqlerrors.ErrorList

	for _, e := range errs {
		e = e.WithDefaultCode(gqlerrors.FieldError)
		e.Source = source

		p, ok := e.ResponsePath()
		if ok && len(p) >= 2 && p[0].IsField() && p[0].Name == common.EntitiesFieldName && p[1].IsIndex() && p[1].Index < size {
			located[p[1].Index] = append(located[p[1].Index], entityError{err: e, rel: p[2:]})
			continue
		}

		e.Path = nil
		extra = append(extra, e)
	}
	return located, extra
}
