package queryer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/buildbuildio/quarry/requests"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(req *http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func respondWith(status int, body string) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			defer req.Body.Close()

			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(bytes.NewBufferString(body)),
				Header:     make(http.Header),
			}
		}),
	}
}

func TestNewMultiOpQueryer(t *testing.T) {
	queryer := NewMultiOpQueryer("foo", 100)

	assert.Equal(t, "foo", queryer.URL())
	assert.Equal(t, 100, queryer.maxBatchSize)

	assert.Equal(t, 1, NewMultiOpQueryer("foo", 0).maxBatchSize)
}

func TestMultiOpQueryerKeepsGraphQLErrors(t *testing.T) {
	queryer := NewMultiOpQueryer("foo", 1).
		WithHTTPClient(respondWith(200, `[{"errors": [{"message": "myError", "path": ["user", 0]}], "data": {"user": [null]}}]`))

	res, err := queryer.Query(context.Background(), []*requests.Request{{Query: "{ user { id } }"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Errors, 1)
	assert.Equal(t, "myError", res[0].Errors[0].Message)
	assert.Equal(t, `{"user":[null]}`, res[0].Data.String())

	p, ok := res[0].Errors[0].ResponsePath()
	require.True(t, ok)
	assert.Equal(t, "user.0", p.String())
}

func TestMultiOpQueryerBadResponseStatus(t *testing.T) {
	queryer := NewMultiOpQueryer("foo", 1).WithHTTPClient(respondWith(500, `{"error": true}`))

	_, err := queryer.Query(context.Background(), []*requests.Request{{Query: "{ called }"}})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 500, statusErr.StatusCode)
	assert.Equal(t, `{"error": true}`, string(statusErr.Body))
}

func TestMultiOpQueryerBadResponseBody(t *testing.T) {
	queryer := NewMultiOpQueryer("foo", 1).WithHTTPClient(respondWith(200, `{"error": true`))

	_, err := queryer.Query(context.Background(), []*requests.Request{{Query: "{ called }"}})
	assert.Error(t, err)

	queryer = NewMultiOpQueryer("foo", 5).WithHTTPClient(respondWith(200, `[{"data": {}}]`))
	_, err = queryer.Query(context.Background(), []*requests.Request{{Query: "{ a }"}, {Query: "{ b }"}})
	assert.EqualError(t, err, "foo answered 1 responses for 2 requests")
}

func TestMultiOpQueryerQuery(t *testing.T) {
	var calls int32

	queryer := NewMultiOpQueryer("foo", 3)

	queryer.WithMiddlewares([]RequestMiddleware{
		HeadersMiddleware(map[string]string{"test": "test"}),
	})

	queryer.WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			defer req.Body.Close()
			atomic.AddInt32(&calls, 1)

			assert.Equal(t, "test", req.Header.Get("test"))
			assert.Equal(t, "value", req.Context().Value(ctxKey{}))

			var reqBody []requests.Request
			require.NoError(t, json.NewDecoder(req.Body).Decode(&reqBody))

			body := ""
			for i, r := range reqBody {
				body += fmt.Sprintf(`{ "data": { "called": %q, "at": %d } },`, r.Variables["n"], i)
			}

			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(bytes.NewBufferString("[" + body[:len(body)-1] + "]")),
				Header:     make(http.Header),
			}
		}),
	})

	var inputs []*requests.Request
	for i := 0; i < 10; i++ {
		inputs = append(inputs, requests.NewRequest("query ($n: String) { called(n: $n) }", map[string]interface{}{"n": fmt.Sprint(i)}))
	}

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	results, err := queryer.Query(ctx, inputs)
	require.NoError(t, err)
	require.Len(t, results, 10)

	for i, res := range results {
		assert.Equal(t, fmt.Sprintf(`{"called":"%d","at":%d}`, i, i%3), res.Data.String())
	}
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestMultiOpQueryerChunkFailure(t *testing.T) {
	var calls int32
	queryer := NewMultiOpQueryer("foo", 2).WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			defer req.Body.Close()
			if atomic.AddInt32(&calls, 1) == 2 {
				return &http.Response{StatusCode: 502, Body: io.NopCloser(bytes.NewBufferString("")), Header: make(http.Header)}
			}
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewBufferString(`[{"data": {}}, {"data": {}}]`)), Header: make(http.Header)}
		}),
	})

	_, err := queryer.Query(context.Background(), []*requests.Request{{Query: "{ a }"}, {Query: "{ a }"}, {Query: "{ a }"}, {Query: "{ a }"}})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 502, statusErr.StatusCode)
}

func TestMultiOpQueryerHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	queryer := NewMultiOpQueryer(server.URL, 10).WithHTTPClient(NewHTTPClient(0))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := queryer.Query(ctx, []*requests.Request{{Query: "{ a }"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMultiOpQueryerOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"data": {"viewer": {"name": "Ann", "id": "1"}}}]`))
	}))
	defer server.Close()

	res, err := NewMultiOpQueryer(server.URL, 10).
		WithHTTPClient(NewHTTPClient(time.Second)).
		Query(context.Background(), []*requests.Request{{Query: "{ viewer { name id } }"}})
	require.NoError(t, err)
	// field order of the source is preserved
	assert.Equal(t, `{"viewer":{"name":"Ann","id":"1"}}`, res[0].Data.String())
}

func TestRegistry(t *testing.T) {
	q := QueryerFunc(func(ctx context.Context, r []*requests.Request) ([]*requests.Response, error) {
		return nil, nil
	})
	registry := Registry{"reviews": q, "accounts": NewMultiOpQueryer("http://accounts", 1)}

	got, err := registry.Get("accounts")
	require.NoError(t, err)
	assert.Equal(t, "http://accounts", got.URL())

	_, err = registry.Get("inventory")
	assert.EqualError(t, err, `unknown source "inventory"`)

	assert.Equal(t, []string{"accounts", "reviews"}, registry.Names())
}

type ctxKey struct{}
