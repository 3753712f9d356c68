// Package common holds helpers shared by the planner, executor and queryer.
package common

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/buildbuildio/quarry/gqlerrors"
)

const (
	TypenameFieldName = "__typename"
	EntitiesFieldName = "_entities"
)

type mapped[P any] struct {
	value P
	err   error
}

// AsyncMapReduce runs mapFunc for every item of payload concurrently and folds
// the successful values into acc in completion order. reduceFunc is only ever
// called from the calling goroutine. Failures are collected as gqlerrors.
func AsyncMapReduce[T, P, A any](
	payload []T,
	acc A,
	mapFunc func(field T) (P, error),
	reduceFunc func(acc A, value P) A,
) (A, gqlerrors.ErrorList) {
	results := make(chan mapped[P], len(payload))

	for _, value := range payload {
		go func(v T) {
			res, err := mapFunc(v)
			results <- mapped[P]{value: res, err: err}
		}(value)
	}

	var errs gqlerrors.ErrorList
	for range payload {
		res := <-results
		if res.err != nil {
			errs = gqlerrors.ExtendErrorList(errs, res.err)
			continue
		}
		acc = reduceFunc(acc, res.value)
	}

	if len(errs) > 0 {
		return acc, errs
	}
	return acc, nil
}

// SelectionSetToFields flattens a selection set into its fields, entering
// inline fragments. With a parent definition, fields it doesn't declare and
// fragments on other types are left out. A nil parent keeps everything.
func SelectionSetToFields(selectionSet ast.SelectionSet, parentDef *ast.Definition) []*ast.Field {
	var declared map[string]bool
	if parentDef != nil {
		declared = make(map[string]bool, len(parentDef.Fields))
		for _, fd := range parentDef.Fields {
			declared[fd.Name] = true
		}
	}

	var result []*ast.Field
	for _, s := range selectionSet {
		switch s := s.(type) {
		case *ast.Field:
			if declared != nil && !declared[s.Name] {
				continue
			}
			result = append(result, s)
		case *ast.InlineFragment:
			if parentDef != nil && s.TypeCondition != parentDef.Name {
				continue
			}
			result = append(result, SelectionSetToFields(s.SelectionSet, parentDef)...)
		}
	}

	return result
}
