package quarry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/merger"
	"github.com/buildbuildio/quarry/nullability"
	"github.com/buildbuildio/quarry/observability"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/propagator"
	"github.com/buildbuildio/quarry/queryer"
	"github.com/buildbuildio/quarry/requests"
	"github.com/buildbuildio/quarry/respath"
)

const testSchema = `
type Query {
	viewer: Viewer
	reviews: [Review]
	user(id: ID!): User
	version: String
}

type Viewer {
	name: String
	userId: ID
}

type Review {
	id: ID!
	body: String
	author: User
}

type User {
	id: ID!
	name: String
}
`

func mustRequest(t *testing.T, query, plan string, opts ...nullability.Option) *Request {
	t.Helper()
	doc, err := planner.LoadPlan(strings.NewReader(plan))
	require.NoError(t, err)

	m, err := nullability.FromSource(testSchema, query, "", opts...)
	require.NoError(t, err)

	return &Request{Plan: doc.Plan, Nullability: m}
}

func marshal(t *testing.T, res *Result) string {
	t.Helper()
	b, err := json.Marshal(res)
	require.NoError(t, err)
	return string(b)
}

// respond answers every request with body, counting the calls.
func respond(t *testing.T, calls *int32, body string) queryer.QueryerFunc {
	return func(_ context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		res := make([]*requests.Response, len(inputs))
		for i := range inputs {
			var resp requests.Response
			require.NoError(t, json.Unmarshal([]byte(body), &resp))
			res[i] = &resp
		}
		return res, nil
	}
}

func unreachable(calls *int32, msg string) queryer.QueryerFunc {
	return func(context.Context, []*requests.Request) ([]*requests.Response, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return nil, errors.New(msg)
	}
}

// entities answers _entities lookups with fn applied to every representation.
// A nil item is sent as null.
func entities(t *testing.T, calls *int32, fn func(rep map[string]interface{}) map[string]interface{}) queryer.QueryerFunc {
	return func(_ context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
		atomic.AddInt32(calls, 1)
		res := make([]*requests.Response, len(inputs))
		for i, input := range inputs {
			reps, _ := input.Variables["representations"].([]interface{})
			items := make([]interface{}, len(reps))
			for j, rep := range reps {
				if item := fn(rep.(map[string]interface{})); item != nil {
					items[j] = item
				}
			}
			b, err := json.Marshal(map[string]interface{}{"data": map[string]interface{}{"_entities": items}})
			require.NoError(t, err)
			var resp requests.Response
			require.NoError(t, json.Unmarshal(b, &resp))
			res[i] = &resp
		}
		return res, nil
	}
}

const sharedViewerPlan = `
root:
  kind: parallel
  steps:
    - kind: resolve
      source: accounts
      query: "{ viewer { name } }"
    - kind: resolve
      source: users
      query: "{ viewer { userId } }"
`

func TestEngineSharedObjectKeepsOtherSourcesFields(t *testing.T) {
	req := mustRequest(t, `{ viewer { name userId } }`, sharedViewerPlan)
	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"users":    respond(t, nil, `{"data": {"viewer": null}, "errors": [{"message": "viewer failed", "path": ["viewer"]}]}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"data": {"viewer": {"name": "Ada", "userId": null}},
		"errors": [{"message": "viewer failed", "path": ["viewer", "userId"], "extensions": {"code": "FIELD_ERROR"}}]
	}`, marshal(t, res))
}

func TestEngineNonNullFieldCascadesToParent(t *testing.T) {
	req := mustRequest(t, `{ viewer { name userId } }`, sharedViewerPlan,
		nullability.WithOverride(respath.New("viewer", "userId"), false))
	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"users":    respond(t, nil, `{"data": {"viewer": null}, "errors": [{"message": "viewer failed", "path": ["viewer"]}]}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"data": {"viewer": null},
		"errors": [{"message": "viewer failed", "path": ["viewer", "userId"], "extensions": {"code": "FIELD_ERROR"}}]
	}`, marshal(t, res))
}

const reviewAuthorsPlan = `
root:
  kind: sequence
  steps:
    - kind: resolve
      source: reviews
      query: "{ reviews { id } }"
    - kind: entity_batch
      source: accounts
      typename: Review
      key_fields: [id]
      keys_from: reviews.*
      selection: "{ author { name } }"
`

func TestEngineListItemFailureIsIsolated(t *testing.T) {
	req := mustRequest(t, `{ reviews { id author { name } } }`, reviewAuthorsPlan)
	var calls int32
	registry := queryer.Registry{
		"reviews": respond(t, nil, `{"data": {"reviews": [{"id": "r0"}, {"id": "r1"}, {"id": "r2"}]}}`),
		"accounts": respond(t, &calls, `{
			"data": {"_entities": [{"author": {"name": "Ada"}}, null, {"author": {"name": "Bob"}}]},
			"errors": [{"message": "author service offline", "path": ["_entities", 1], "extensions": {"code": "TRANSPORT_ERROR"}}]
		}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.JSONEq(t, `{
		"data": {"reviews": [
			{"id": "r0", "author": {"name": "Ada"}},
			{"id": "r1", "author": null},
			{"id": "r2", "author": {"name": "Bob"}}
		]},
		"errors": [{"message": "author service offline", "path": ["reviews", 1, "author"], "extensions": {"code": "TRANSPORT_ERROR"}}]
	}`, marshal(t, res))
}

func TestEngineNonNullListItemNullsOnlyThatItem(t *testing.T) {
	req := mustRequest(t, `{ reviews { id author { name } } }`, reviewAuthorsPlan,
		nullability.WithOverride(respath.New("reviews", "*", "author"), false))
	registry := queryer.Registry{
		"reviews": respond(t, nil, `{"data": {"reviews": [{"id": "r0"}, {"id": "r1"}]}}`),
		"accounts": respond(t, nil, `{
			"data": {"_entities": [{"author": {"name": "Ada"}}, null]},
			"errors": [{"message": "author failed", "path": ["_entities", 1]}]
		}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"data": {"reviews": [{"id": "r0", "author": {"name": "Ada"}}, null]},
		"errors": [{"message": "author failed", "path": ["reviews", 1, "author"], "extensions": {"code": "FIELD_ERROR"}}]
	}`, marshal(t, res))

	// a non-null list item takes the whole list down
	req = mustRequest(t, `{ reviews { id author { name } } }`, reviewAuthorsPlan,
		nullability.WithOverride(respath.New("reviews", "*", "author"), false),
		nullability.WithOverride(respath.New("reviews", "*"), false))

	res, err = NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reviews": null}`, res.Data.String())
	require.Len(t, res.Errors, 1)
}

func TestEngineMissingEntitiesAreNullWithoutErrors(t *testing.T) {
	req := mustRequest(t, `{ reviews { author { id name } } }`, `
root:
  kind: sequence
  steps:
    - kind: resolve
      source: reviews
      query: "{ reviews { author { id } } }"
    - kind: entity_batch
      source: accounts
      typename: User
      key_fields: [id]
      keys_from: reviews.*.author
      selection: "{ name }"
`)
	var calls int32
	registry := queryer.Registry{
		"reviews": respond(t, nil, `{"data": {"reviews": [
			{"author": {"id": "0"}},
			{"author": {"id": "1"}},
			{"author": {"id": "2"}},
			{"author": {"id": "3"}},
			{"author": {"id": "4"}}
		]}}`),
		"accounts": entities(t, &calls, func(rep map[string]interface{}) map[string]interface{} {
			switch rep["id"] {
			case "1", "3":
				return nil
			}
			return map[string]interface{}{"name": "user " + rep["id"].(string)}
		}),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Empty(t, res.Errors)
	assert.Equal(t, `{"data":{"reviews":[`+
		`{"author":{"id":"0","name":"user 0"}},`+
		`{"author":null},`+
		`{"author":{"id":"2","name":"user 2"}},`+
		`{"author":null},`+
		`{"author":{"id":"4","name":"user 4"}}]}}`, marshal(t, res))
}

func TestEngineMissingEntityKeepsNonNullParent(t *testing.T) {
	query := `{ reviews { author { id name } } }`
	plan := `
root:
  kind: sequence
  steps:
    - kind: resolve
      source: reviews
      query: "{ reviews { author { id } } }"
    - kind: entity_batch
      source: accounts
      typename: User
      key_fields: [id]
      keys_from: reviews.*.author
      selection: "{ name }"
`
	var calls int32
	registry := queryer.Registry{
		"reviews": respond(t, nil, `{"data": {"reviews": [{"author": {"id": "0"}}, {"author": {"id": "1"}}]}}`),
		"accounts": entities(t, &calls, func(rep map[string]interface{}) map[string]interface{} {
			if rep["id"] == "1" {
				return nil
			}
			return map[string]interface{}{"name": "u"}
		}),
	}
	nonNullAuthor := nullability.WithOverride(respath.New("reviews", "*", "author"), false)

	res, err := NewEngine(registry).Execute(context.Background(), mustRequest(t, query, plan, nonNullAuthor))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.JSONEq(t, `{"reviews": [{"author": {"id": "0", "name": "u"}}, {"author": null}]}`, res.Data.String())

	// the same null from a resolve step is treated alike
	resolved := queryer.Registry{
		"reviews": respond(t, nil, `{"data": {"reviews": [{"author": {"id": "0", "name": "u"}}, {"author": null}]}}`),
	}
	res, err = NewEngine(resolved).Execute(context.Background(), mustRequest(t, query, `
root:
  kind: resolve
  source: reviews
  query: "{ reviews { author { id name } } }"
`, nonNullAuthor))
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.JSONEq(t, `{"reviews": [{"author": {"id": "0", "name": "u"}}, {"author": null}]}`, res.Data.String())

	// reporting non-null violations explains the bubbling
	res, err = NewEngine(registry, WithNonNullPolicy(propagator.NonNullReport)).Execute(context.Background(), mustRequest(t, query, plan, nonNullAuthor))
	require.NoError(t, err)
	assert.JSONEq(t, `{"reviews": [{"author": {"id": "0", "name": "u"}}, null]}`, res.Data.String())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, gqlerrors.NonNullViolationError, res.Errors[0].Code())
	assert.Equal(t, []interface{}{"reviews", 1, "author"}, res.Errors[0].Path)
}

func TestEngineFailedEntryStepSkipsDependents(t *testing.T) {
	req := mustRequest(t, `{ reviews { author { name } } }`, `
root:
  kind: sequence
  steps:
    - kind: resolve
      source: reviews
      query: "{ reviews { author { id } } }"
    - kind: entity_batch
      source: accounts
      typename: User
      key_fields: [id]
      keys_from: reviews.*.author
      selection: "{ name }"
scrub:
  - path: reviews.author
    fields: [id]
`)
	var calls int32
	registry := queryer.Registry{
		"reviews": unreachable(nil, "reviews offline"),
		"accounts": entities(t, &calls, func(map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"name": "never"}
		}),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls)
	assert.JSONEq(t, `{
		"data": {"reviews": null},
		"errors": [{"message": "reviews offline", "path": ["reviews"], "extensions": {"code": "TRANSPORT_ERROR"}}]
	}`, marshal(t, res))
}

func TestEngineFailedExportNullsDependentStep(t *testing.T) {
	req := mustRequest(t, `{ viewer { userId } user(id: "1") { name } }`, `
root:
  kind: sequence
  steps:
    - kind: resolve
      source: accounts
      query: "{ viewer { userId } }"
      exports:
        - variable: userId
          path: viewer.userId
    - kind: resolve
      source: users
      selection: "{ user(id: $userId) { name } }"
      variable_types:
        userId: ID!
      requires: [userId]
`)
	var calls int32
	registry := queryer.Registry{
		"accounts": unreachable(nil, "accounts offline"),
		"users":    respond(t, &calls, `{"data": {"user": {"name": "Ada"}}}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls)
	assert.JSONEq(t, `{
		"data": {"viewer": null, "user": null},
		"errors": [{"message": "accounts offline", "path": ["viewer"], "extensions": {"code": "TRANSPORT_ERROR"}}]
	}`, marshal(t, res))
}

func TestEngineParallelOrderDoesNotMatter(t *testing.T) {
	plan := `
root:
  kind: parallel
  steps:
    - kind: resolve
      source: accounts
      query: "{ viewer { name } }"
    - kind: resolve
      source: users
      query: "{ viewer { userId } }"
    - kind: resolve
      source: meta
      query: "{ version }"
`
	delayed := func(d time.Duration, body string) queryer.QueryerFunc {
		inner := respond(t, nil, body)
		return func(ctx context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
			time.Sleep(d)
			return inner(ctx, inputs)
		}
	}

	var results []string
	for _, delays := range [][3]time.Duration{
		{0, 10 * time.Millisecond, 20 * time.Millisecond},
		{20 * time.Millisecond, 10 * time.Millisecond, 0},
		{10 * time.Millisecond, 0, 20 * time.Millisecond},
	} {
		registry := queryer.Registry{
			"accounts": delayed(delays[0], `{"data": {"viewer": {"name": "Ada"}}, "errors": [{"message": "a"}]}`),
			"users":    delayed(delays[1], `{"data": {"viewer": {"userId": "u1"}}, "errors": [{"message": "b"}]}`),
			"meta":     delayed(delays[2], `{"data": {"version": "1"}, "errors": [{"message": "c"}]}`),
		}
		res, err := NewEngine(registry).Execute(context.Background(), mustRequest(t, `{ version viewer { name userId } }`, plan))
		require.NoError(t, err)
		results = append(results, marshal(t, res))
	}

	for _, r := range results[1:] {
		if diff := cmp.Diff(results[0], r); diff != "" {
			t.Errorf("result depends on completion order (-first +got):\n%s", diff)
		}
	}
	assert.Equal(t, `{"data":{"version":"1","viewer":{"name":"Ada","userId":"u1"}},"errors":[`+
		`{"extensions":{"code":"FIELD_ERROR"},"message":"a"},`+
		`{"extensions":{"code":"FIELD_ERROR"},"message":"b"},`+
		`{"extensions":{"code":"FIELD_ERROR"},"message":"c"}]}`, results[0])
}

func TestEngineBatchFailureLeavesSiblingsAlone(t *testing.T) {
	req := mustRequest(t, `{ viewer { name } reviews { author { name } } }`, `
root:
  kind: parallel
  steps:
    - kind: resolve
      source: accounts
      query: "{ viewer { name } }"
    - kind: sequence
      steps:
        - kind: resolve
          source: reviews
          query: "{ reviews { author { id } } }"
        - kind: entity_batch
          source: users
          typename: User
          key_fields: [id]
          keys_from: reviews.*.author
          selection: "{ name }"
scrub:
  - path: reviews.author
    fields: [id]
`)
	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"reviews":  respond(t, nil, `{"data": {"reviews": [{"author": {"id": "1"}}, {"author": {"id": "2"}}]}}`),
		"users":    unreachable(nil, "users offline"),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"data": {"viewer": {"name": "Ada"}, "reviews": [{"author": {"name": null}}, {"author": {"name": null}}]},
		"errors": [
			{"message": "users offline", "path": ["reviews", 0, "author", "name"], "extensions": {"code": "TRANSPORT_ERROR"}},
			{"message": "users offline", "path": ["reviews", 1, "author", "name"], "extensions": {"code": "TRANSPORT_ERROR"}}
		]
	}`, marshal(t, res))
}

func TestEnginePathlessErrorsKeepData(t *testing.T) {
	req := mustRequest(t, `{ version }`, `
root:
  kind: resolve
  source: meta
  query: "{ version }"
`)
	registry := queryer.Registry{
		"meta": respond(t, nil, `{"data": {"version": "1"}, "errors": [{"message": "deprecated client", "extensions": {"code": "DEPRECATED"}}]}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	require.NoError(t, err)

	assert.JSONEq(t, `{"data": {"version": "1"}, "errors": [{"message": "deprecated client", "extensions": {"code": "DEPRECATED"}}]}`, marshal(t, res))
}

func TestEngineNonNullPolicy(t *testing.T) {
	query := `{ viewer { name userId } }`
	plan := `
root:
  kind: resolve
  source: accounts
  query: "{ viewer { name userId } }"
`
	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": null, "userId": "u1"}}}`),
	}
	strictName := nullability.WithOverride(respath.New("viewer", "name"), false)

	res, err := NewEngine(registry).Execute(context.Background(), mustRequest(t, query, plan, strictName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"viewer": {"name": null, "userId": "u1"}}}`, marshal(t, res))

	res, err = NewEngine(registry, WithNonNullPolicy(propagator.NonNullReport)).
		Execute(context.Background(), mustRequest(t, query, plan, strictName))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": {"viewer": null},
		"errors": [{"message": "Cannot return null for non-nullable field", "path": ["viewer", "name"], "extensions": {"code": "NON_NULL_VIOLATION"}}]
	}`, marshal(t, res))
}

func TestEngineLeafErrorPolicy(t *testing.T) {
	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"users":    unreachable(nil, "users offline"),
	}

	res, err := NewEngine(registry).Execute(context.Background(), mustRequest(t, `{ viewer { name userId } }`, sharedViewerPlan))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": {"viewer": {"name": "Ada", "userId": null}},
		"errors": [{"message": "users offline", "path": ["viewer", "userId"], "extensions": {"code": "TRANSPORT_ERROR"}}]
	}`, marshal(t, res))

	res, err = NewEngine(registry, WithLeafErrorPolicy(propagator.LeafErrorsSuppress)).
		Execute(context.Background(), mustRequest(t, `{ viewer { name userId } }`, sharedViewerPlan))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": {"viewer": {"name": "Ada", "userId": null}}}`, marshal(t, res))
}

func TestEngineMergeConflictIsFatal(t *testing.T) {
	req := mustRequest(t, `{ viewer { name } }`, `
root:
  kind: parallel
  steps:
    - kind: resolve
      source: a
      query: "{ viewer { name } }"
    - kind: resolve
      source: b
      query: "{ viewer { name } }"
`)
	registry := queryer.Registry{
		"a": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"b": respond(t, nil, `{"data": {"viewer": {"name": "Bob"}}}`),
	}

	res, err := NewEngine(registry).Execute(context.Background(), req)
	assert.Nil(t, res)

	var conflict *merger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "viewer.name", conflict.Path.String())
}

func TestEngineCancellation(t *testing.T) {
	plan := `
root:
  kind: parallel
  steps:
    - kind: resolve
      source: slow
      query: "{ version }"
    - kind: resolve
      source: accounts
      query: "{ viewer { name } }"
`
	slow := queryer.QueryerFunc(func(ctx context.Context, _ []*requests.Request) ([]*requests.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	registry := queryer.Registry{
		"slow":     slow,
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
	}

	t.Run("timeout", func(t *testing.T) {
		res, err := NewEngine(registry, WithTimeout(20*time.Millisecond)).
			Execute(context.Background(), mustRequest(t, `{ version viewer { name } }`, plan))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("client gone", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		res, err := NewEngine(registry).Execute(ctx, mustRequest(t, `{ version viewer { name } }`, plan))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngineRejectsInvalidRequests(t *testing.T) {
	e := NewEngine(queryer.Registry{})

	_, err := e.Execute(context.Background(), nil)
	assert.EqualError(t, err, "request has no plan")

	_, err = e.Execute(context.Background(), mustRequest(t, `{ version }`, `
root:
  kind: resolve
  source: meta
  query: "{ version }"
`))
	assert.EqualError(t, err, `plan: unknown source "meta"`)
}

func TestEngineRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	metrics, err := observability.NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	registry := queryer.Registry{
		"accounts": respond(t, nil, `{"data": {"viewer": {"name": "Ada"}}}`),
		"users":    unreachable(nil, "users offline"),
	}
	_, err = NewEngine(registry, WithMetrics(metrics)).
		Execute(context.Background(), mustRequest(t, `{ viewer { name userId } }`, sharedViewerPlan))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	assert.Equal(t, int64(1), sums["quarry.requests.total"])
	assert.Equal(t, int64(2), sums["quarry.source.requests"])
	assert.Equal(t, int64(1), sums["quarry.source.failures"])
	assert.Equal(t, int64(1), sums["quarry.nulls.propagated"])
	assert.Equal(t, int64(1), sums["quarry.errors.total"])
}
