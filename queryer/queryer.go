package queryer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/buildbuildio/quarry/requests"
)

// Queryer sends requests to one source. Responses are positional: the i-th
// response answers the i-th request. A returned error means the source could
// not be reached or answered with something that is not a GraphQL response.
type Queryer interface {
	Query(context.Context, []*requests.Request) ([]*requests.Response, error)
	URL() string
}

// QueryerFunc adapts a function to the Queryer interface.
type QueryerFunc func(context.Context, []*requests.Request) ([]*requests.Response, error)

var _ Queryer = QueryerFunc(nil)

func (f QueryerFunc) Query(ctx context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	return f(ctx, inputs)
}

func (f QueryerFunc) URL() string {
	return ""
}

// Registry maps source names to their queryers.
type Registry map[string]Queryer

// Get returns the queryer of a source.
func (r Registry) Get(source string) (Queryer, error) {
	q, ok := r[source]
	if !ok || q == nil {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	return q, nil
}

// Names returns registered sources in lexical order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "source " + r.URL.Host
			}),
		),
	}
}
