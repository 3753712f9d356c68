package requests

import (
	"github.com/samber/lo"
)

// Request represents single request sent to a source
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName *string                `json:"operationName"`
}

// NewRequest returns a request for query with a copy of variables.
func NewRequest(query string, variables map[string]interface{}) *Request {
	return &Request{
		Query:     query,
		Variables: lo.Assign(variables),
	}
}

// WithOperationName sets the operation name. Empty names are sent as null.
func (r *Request) WithOperationName(name string) *Request {
	if name == "" {
		r.OperationName = nil
		return r
	}
	r.OperationName = &name
	return r
}
