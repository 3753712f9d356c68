package requests

import (
	"github.com/buildbuildio/quarry/gqlerrors"
	"github.com/buildbuildio/quarry/node"
)

type Responses []Response

// Response is what a source answered for one request. Data keeps the source's field order.
type Response struct {
	Errors gqlerrors.ErrorList `json:"errors,omitempty"`
	Data   *node.Node          `json:"data"`
}

// HasData reports whether the source returned anything besides null.
func (r *Response) HasData() bool {
	return r != nil && !r.Data.IsNull()
}
