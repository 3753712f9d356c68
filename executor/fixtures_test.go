package executor

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/planner"
	"github.com/buildbuildio/quarry/queryer"
	"github.com/buildbuildio/quarry/requests"
)

// MockSuccessQueryer responds with pre-defined data and records what it got.
type MockSuccessQueryer struct {
	Value string
	url   string

	mu       sync.Mutex
	requests []*requests.Request
}

var _ queryer.Queryer = &MockSuccessQueryer{}

func (q *MockSuccessQueryer) URL() string {
	if q.url != "" {
		return q.url
	}
	return "mockSuccessQueryer"
}

func (q *MockSuccessQueryer) Query(_ context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	q.mu.Lock()
	q.requests = append(q.requests, inputs...)
	q.mu.Unlock()

	res := make([]*requests.Response, len(inputs))
	for i := range inputs {
		res[i] = &requests.Response{Data: node.MustParse(q.Value)}
	}
	return res, nil
}

func (q *MockSuccessQueryer) Requests() []*requests.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*requests.Request(nil), q.requests...)
}

// MockQueryerFunc responds to the query by calling the provided function
type MockQueryerFunc struct {
	F   func(*requests.Request) (*requests.Response, error)
	url string
}

var _ queryer.Queryer = MockQueryerFunc{}

func (q MockQueryerFunc) Query(_ context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	res := make([]*requests.Response, len(inputs))
	for i, input := range inputs {
		resp, err := q.F(input)
		if err != nil {
			return nil, err
		}
		res[i] = resp
	}
	return res, nil
}

func (q MockQueryerFunc) URL() string {
	if q.url != "" {
		return q.url
	}
	return "MockQueryerFunc"
}

// MockRoundTripQueryer counts Query calls and the requests each carried.
type MockRoundTripQueryer struct {
	MockQueryerFunc

	mu    sync.Mutex
	sizes []int
}

func (q *MockRoundTripQueryer) Query(ctx context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	q.mu.Lock()
	q.sizes = append(q.sizes, len(inputs))
	q.mu.Unlock()
	return q.MockQueryerFunc.Query(ctx, inputs)
}

func (q *MockRoundTripQueryer) Sizes() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.sizes...)
}

func mustResponse(t *testing.T, body string) *requests.Response {
	t.Helper()
	var resp requests.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return &resp
}

func mustPlan(t *testing.T, doc string) *planner.QueryPlan {
	t.Helper()
	d, err := planner.LoadPlan(strings.NewReader(doc))
	require.NoError(t, err)
	return d.Plan
}
