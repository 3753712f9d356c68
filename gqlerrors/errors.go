package gqlerrors

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/buildbuildio/quarry/respath"
)

const (
	ValidationFailedError = "GRAPHQL_VALIDATION_FAILED"
	UndefinedError        = "UNDEFINED_ERROR"
	// TransportError is synthesized when a source could not be reached or answered with a non-2xx status.
	TransportError = "TRANSPORT_ERROR"
	// FieldError is the default code of errors reported by a source.
	FieldError            = "FIELD_ERROR"
	MergeConflictError    = "MERGE_CONFLICT"
	BatchMismatchError    = "BATCH_MISMATCH"
	NonNullViolationError = "NON_NULL_VIOLATION"
)

type Location struct {
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// Error represents a graphql error
type Error struct {
	Extensions map[string]interface{} `json:"extensions"`
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	// Source names the backend the error came from. It only takes part in deduplication.
	Source string `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError returns a graphql error with the given code and message
func NewError(code string, err error) *Error {
	return &Error{
		Message: err.Error(),
		Extensions: map[string]interface{}{
			"code": code,
		},
	}
}

// New returns an error with code located at path and attributed to source.
func New(code, message string, path respath.Path, source string) *Error {
	return &Error{
		Message:    message,
		Path:       path.Interfaces(),
		Source:     source,
		Extensions: map[string]interface{}{"code": code},
	}
}

// Code returns extensions.code or an empty string.
func (e *Error) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// ResponsePath returns the path of the error. Errors without path report false.
func (e *Error) ResponsePath() (respath.Path, bool) {
	if len(e.Path) == 0 {
		return nil, false
	}
	p, err := respath.FromInterfaces(e.Path)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Clone returns a copy not sharing path or extensions with e.
func (e *Error) Clone() *Error {
	c := *e
	c.Path = append([]interface{}(nil), e.Path...)
	if len(e.Path) == 0 {
		c.Path = nil
	}
	c.Locations = append([]Location(nil), e.Locations...)
	if len(e.Locations) == 0 {
		c.Locations = nil
	}
	c.Extensions = make(map[string]interface{}, len(e.Extensions))
	for k, v := range e.Extensions {
		c.Extensions[k] = v
	}
	return &c
}

// WithPath returns a copy of e located at path.
func (e *Error) WithPath(path respath.Path) *Error {
	c := e.Clone()
	c.Path = path.Interfaces()
	return c
}

// WithDefaultCode returns a copy of e with extensions.code set when it was missing.
func (e *Error) WithDefaultCode(code string) *Error {
	c := e.Clone()
	if c.Code() == "" {
		c.Extensions["code"] = code
	}
	return c
}

// Rebase prefixes the error path with mount. Pathless errors stay pathless.
func (e *Error) Rebase(mount respath.Path) *Error {
	p, ok := e.ResponsePath()
	if !ok {
		return e.Clone()
	}
	return e.WithPath(mount.Join(p))
}

// Key identifies an error for deduplication.
func (e *Error) Key() string {
	return fmt.Sprintf("%s\x00%v\x00%s", e.Message, e.Path, e.Source)
}

// ErrorList represents a list of errors
type ErrorList []*Error

// ExtendErrorList adds provided err as *Error
func ExtendErrorList(errs ErrorList, err error) ErrorList {
	return append(errs, FormatError(err)...)
}

// Error returns a string representation of each error
func (list ErrorList) Error() string {
	acc := make([]string, len(list))

	for i, err := range list {
		acc[i] = err.Error()
	}

	return strings.Join(acc, ". ")
}

// Rebase rebases every error of the list onto mount.
func (list ErrorList) Rebase(mount respath.Path) ErrorList {
	return lo.Map(list, func(e *Error, _ int) *Error { return e.Rebase(mount) })
}

// Dedupe drops repeated errors keeping the first occurrence, so list order is discovery order.
func (list ErrorList) Dedupe() ErrorList {
	if len(list) == 0 {
		return nil
	}
	return lo.UniqBy(list, func(e *Error) string { return e.Key() })
}

func FormatError(err error) ErrorList {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case ErrorList:
		var list ErrorList
		for _, innerErr := range e {
			list = append(list, FormatError(innerErr)...)
		}
		return list
	case *Error:
		return ErrorList{e}
	case *gqlerror.Error:
		var locations []Location
		for _, loc := range e.Locations {
			locations = append(locations, Location(loc))
		}
		ext := e.Extensions
		if len(ext) == 0 {
			ext = map[string]interface{}{"code": UndefinedError}
		}
		return ErrorList{&Error{
			Extensions: ext,
			Message:    e.Message,
			Locations:  locations,
			Path: lo.Map(e.Path, func(el ast.PathElement, _ int) interface{} {
				if idx, ok := el.(ast.PathIndex); ok {
					return int(idx)
				}
				return fmt.Sprint(el)
			}),
		}}
	case gqlerror.List:
		var list ErrorList
		for _, innerErr := range e {
			list = append(list, FormatError(innerErr)...)
		}
		return list
	default:
		return ErrorList{
			NewError(UndefinedError, err),
		}
	}
}
