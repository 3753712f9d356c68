package queryer

import (
	"context"
	"net/http"

	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/requests"
	"github.com/samber/lo"
)

type chunkResponse struct {
	Index    int
	Response []*requests.Response
	Err      error
}

// RequestMiddleware are functions can be passed to Queryer to affect its internal behavior
type RequestMiddleware func(*http.Request) error

// HeadersMiddleware sets static headers on every request.
func HeadersMiddleware(headers map[string]string) RequestMiddleware {
	return func(r *http.Request) error {
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		return nil
	}
}

// MultiOpQueryer sends all requests it is given in one network request
// to a single target, splitting them into chunks of at most maxBatchSize
type MultiOpQueryer struct {
	url     string
	client  *http.Client
	mdwares []RequestMiddleware

	maxBatchSize int
}

var _ Queryer = &MultiOpQueryer{}

// NewMultiOpQueryer returns a MultiOpQueryer with the provided parameters
func NewMultiOpQueryer(url string, maxBatchSize int) *MultiOpQueryer {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}

	return &MultiOpQueryer{
		url:          url,
		client:       &http.Client{},
		maxBatchSize: maxBatchSize,
	}
}

// WithMiddlewares lets the user assign middlewares to the queryer
func (q *MultiOpQueryer) WithMiddlewares(mwares []RequestMiddleware) *MultiOpQueryer {
	q.mdwares = mwares
	return q
}

// WithHTTPClient lets the user configure the client to use when making network requests
func (q *MultiOpQueryer) WithHTTPClient(client *http.Client) *MultiOpQueryer {
	q.client = client
	return q
}

func (q *MultiOpQueryer) URL() string {
	return q.url
}

func (q *MultiOpQueryer) Query(ctx context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	// fit in max batch size
	lInputs := len(inputs)
	if lInputs <= q.maxBatchSize {
		return q.fetch(ctx, inputs)
	}

	// divide into smaller batches
	chunks := (lInputs + q.maxBatchSize - 1) / q.maxBatchSize

	// chunk failures travel inside the response so the original error
	// survives instead of being flattened into a gqlerrors list
	var firstErr error
	res, _ := common.AsyncMapReduce(
		lo.Range(chunks),
		make([]*requests.Response, lInputs),
		func(i int) (*chunkResponse, error) {
			end := lo.Min([]int{(i + 1) * q.maxBatchSize, lInputs})

			res, err := q.fetch(ctx, inputs[i*q.maxBatchSize:end])

			return &chunkResponse{
				Index:    i,
				Response: res,
				Err:      err,
			}, nil
		},
		func(acc []*requests.Response, value *chunkResponse) []*requests.Response {
			if value.Err != nil {
				if firstErr == nil {
					firstErr = value.Err
				}
				return acc
			}
			copy(acc[value.Index*q.maxBatchSize:], value.Response)
			return acc
		},
	)

	if firstErr != nil {
		return nil, firstErr
	}

	return res, nil
}
