package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func mustSelectionSet(t *testing.T, query string) ast.SelectionSet {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	require.NoError(t, err)
	return doc.Operations[0].SelectionSet
}

func TestFormatSelectionSet(t *testing.T) {
	s := mustSelectionSet(t, `{ viewer { id name: displayName } }`)

	assert.Equal(t, `{ viewer { id name: displayName } }`, DebugFormatSelectionSetWithArgs(s))
}

func TestFormatSelectionSetWithOperationName(t *testing.T) {
	s := mustSelectionSet(t, `{ viewer { id } }`)
	name := "Viewer"

	assert.Equal(t, `query Viewer { viewer { id } }`, compact(FormatSelectionSetWithArgs(s, &name)))
}

func TestFormatSelectionSetWithArgs(t *testing.T) {
	s := ast.SelectionSet{
		&ast.Field{
			Name: "user",
			Arguments: ast.ArgumentList{
				{Name: "id", Value: &ast.Value{Kind: ast.Variable, Raw: "userId"}},
			},
			Definition: &ast.FieldDefinition{
				Name: "user",
				Arguments: ast.ArgumentDefinitionList{
					{Name: "id", Type: ast.NonNullNamedType("ID", nil)},
				},
				Type: ast.NamedType("User", nil),
			},
			SelectionSet: ast.SelectionSet{&ast.Field{Name: "name"}},
		},
	}

	assert.Equal(t, `query ($userId: ID!) { user(id: $userId) { name } }`, DebugFormatSelectionSetWithArgs(s))
}

func TestFormatEntitiesQuery(t *testing.T) {
	s := mustSelectionSet(t, `{ body author { id } }`)

	assert.Equal(t,
		`query ($representations: [_Any!]!) { _entities(representations: $representations) { ... on Review { body author { id } } } }`,
		DebugFormatEntitiesQuery("Review", s),
	)
}

func TestFormatQueryWithVariableTypes(t *testing.T) {
	s := mustSelectionSet(t, `{ user(id: $userId) { name reviews(first: $first) { body } } }`)
	name := "User"

	assert.Equal(t,
		`query User ($first: Int, $userId: ID!) { user(id: $userId) { name reviews(first: $first) { body } } }`,
		compact(FormatQuery(s, map[string]string{"userId": "ID!", "first": "Int"}, &name)),
	)
	assert.Equal(t,
		`query ($locale: String, $representations: [_Any!]!) { _entities(representations: $representations) { ... on User { bio(locale: $locale) } } }`,
		compact(FormatEntitiesQuery("User", mustSelectionSet(t, `{ bio(locale: $locale) }`), map[string]string{"locale": "String"}, nil)),
	)
}
