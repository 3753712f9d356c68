package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buildbuildio/quarry/node"
)

func TestScrubFields(t *testing.T) {
	sf1 := make(ScrubFields)
	sf2 := make(ScrubFields)
	tpath := []string{"1", "2"}
	tname := "Type"
	fname1 := "Field1"
	fname2 := "Field2"

	sf1.Set(tpath, tname, fname1)

	actual := sf1.Get(nil, tname)
	assert.Len(t, actual, 0)

	actual = sf1.Get(tpath, tname)
	assert.Equal(t, actual, []string{fname1})

	sf2.Set(tpath, tname, fname2)

	sf1.Merge(nil)

	sf1.Merge(sf2)

	actual = sf1.Get(tpath, tname)
	assert.Equal(t, actual, []string{fname1, fname2})

	b, err := json.Marshal(sf1)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"1.2#Type": ["Field1", "Field2"]}`, string(b))
}

func TestScrubFieldsCleanWithTypename(t *testing.T) {
	sf := make(ScrubFields)

	sf.Set([]string{"a", "b"}, "Test", "id")
	sf.Set([]string{"a", "b"}, "Test", "__typename")

	obj := node.MustParse(`{
		"a": [{
			"d": {"id": "1", "__typename": "Test"},
			"b": {"id": "1", "__typename": "Test", "name": "3"}
		}],
		"c": 10
	}`)

	sf.Clean(obj)

	assert.Equal(t, `{"a":[{"d":{"id":"1","__typename":"Test"},"b":{"name":"3"}}],"c":10}`, obj.String())
}

func TestScrubFieldsCleanWithTypenameDifferentFields(t *testing.T) {
	sf := make(ScrubFields)

	sf.Set([]string{"a", "b"}, "Other", "__typename")

	sf.Set([]string{"a", "b"}, "Test", "id")
	sf.Set([]string{"a", "b"}, "Test", "__typename")

	obj := node.MustParse(`{"a": [
		{"b": {"id": "1", "__typename": "Test", "name": "1"}},
		{"b": {"id": "2", "__typename": "Other", "name": "2"}}
	]}`)

	sf.Clean(obj)

	assert.Equal(t, `{"a":[{"b":{"name":"1"}},{"b":{"id":"2","name":"2"}}]}`, obj.String())
}

func TestScrubFieldsCleanMissingTypename(t *testing.T) {
	sf := make(ScrubFields)

	sf.Set([]string{"a", "b"}, "Test", "id")
	sf.Set([]string{"a", "b"}, "Test", "__typename")

	obj := node.MustParse(`{"a": [{"d": {"id": "1"}, "b": {"id": "1", "name": "3"}}], "c": 10}`)

	sf.Clean(obj)

	assert.Equal(t, `{"a":[{"d":{"id":"1"},"b":{"name":"3"}}],"c":10}`, obj.String())
}

func TestScrubFieldsCleanNotMatchingTypename(t *testing.T) {
	sf := make(ScrubFields)

	sf.Set([]string{"a", "b"}, "Test", "id")
	sf.Set([]string{"a", "b"}, "Test", "__typename")

	obj := node.MustParse(`{"a": [{"b": {"id": "1", "name": "3", "__typename": "OtherTest"}}], "c": 10}`)

	sf.Clean(obj)

	assert.Equal(t, `{"a":[{"b":{"id":"1","name":"3","__typename":"OtherTest"}}],"c":10}`, obj.String())
}

func TestScrubFieldsRemovesEmptiedObjects(t *testing.T) {
	sf := make(ScrubFields)

	sf.Set([]string{"viewer", "helper"}, "", "id")
	sf.Set(nil, "", "_root")

	obj := node.MustParse(`{"viewer": {"name": "Ann", "helper": {"id": "1"}}, "_root": true, "items": null}`)

	sf.Clean(obj)

	assert.Equal(t, `{"viewer":{"name":"Ann"},"items":null}`, obj.String())
}

func TestScrubFieldsCleanEmpty(t *testing.T) {
	sf := make(ScrubFields)
	sf.Set([]string{"a", "b"}, "Test", "id")

	obj := node.Object()
	sf.Clean(obj)
	assert.Equal(t, `{}`, obj.String())

	null := node.Null()
	sf.Clean(null)
	assert.True(t, null.IsNull())

	var empty ScrubFields
	obj = node.MustParse(`{"a": {"b": {"id": "1"}}}`)
	empty.Clean(obj)
	assert.Equal(t, `{"a":{"b":{"id":"1"}}}`, obj.String())
}
