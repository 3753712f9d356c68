package queryer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/buildbuildio/quarry/requests"
)

// StatusError is returned when a source answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("response was not successful with status code: %d", e.StatusCode)
}

// sendQueryRequest is responsible for sending the provided payload to the designated URL
func (q *MultiOpQueryer) sendQueryRequest(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return q.sendRequest(req)
}

func (q *MultiOpQueryer) sendRequest(request *http.Request) ([]byte, error) {
	// we could have any number of middlewares that we have to go through so
	for _, mdware := range q.mdwares {
		err := mdware(request)
		if err != nil {
			return nil, err
		}
	}

	if q.client == nil {
		q.client = &http.Client{}
	}

	resp, err := q.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// check for HTTP errors
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, nil
}

func (q *MultiOpQueryer) fetch(ctx context.Context, inputs []*requests.Request) ([]*requests.Response, error) {
	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}

	response, err := q.sendQueryRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	var results []*requests.Response
	if err := json.Unmarshal(response, &results); err != nil {
		return nil, fmt.Errorf("decode response of %s: %w", q.url, err)
	}

	if len(results) != len(inputs) {
		return nil, fmt.Errorf("%s answered %d responses for %d requests", q.url, len(results), len(inputs))
	}

	for i, res := range results {
		if res == nil {
			results[i] = &requests.Response{}
		}
	}

	return results, nil
}
