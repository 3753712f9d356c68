package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/buildbuildio/quarry/common"
	"github.com/buildbuildio/quarry/node"

	"github.com/samber/lo"
)

// ScrubFields lists helper fields the plan selected only to join steps
// (keys, __typename) and that the client did not ask for. The outer key is the
// dotted field path of the object, lists are crossed implicitly. The inner key
// is the typename the fields are removed from, "" matches every type.
type ScrubFields map[string]map[string][]string

func (sf ScrubFields) MarshalJSON() ([]byte, error) {
	if sf == nil {
		return json.Marshal(nil)
	}
	res := make(map[string][]string)
	for i, v := range sf {
		for j, vv := range v {
			res[fmt.Sprintf("%s#%s", i, j)] = vv
		}
	}

	return json.Marshal(res)
}

func (sf ScrubFields) hash(path []string) string {
	return strings.Join(path, ".")
}

func (sf ScrubFields) unhash(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

func (sf ScrubFields) Set(path []string, typename, fieldname string) {
	key := sf.hash(path)
	if sf[key] == nil {
		sf[key] = make(map[string][]string)
	}
	sf[key][typename] = lo.Uniq(append(sf[key][typename], fieldname))
}

func (sf ScrubFields) Get(path []string, typename string) []string {
	key := sf.hash(path)
	if sf[key] == nil {
		return nil
	}
	return sf[key][typename]
}

func (sf ScrubFields) Merge(sfs ScrubFields) {
	for i, v := range sfs {
		if sf[i] == nil {
			sf[i] = make(map[string][]string)
		}
		for j, vv := range v {
			sf[i][j] = lo.Uniq(append(sf[i][j], vv...))
		}
	}
}

// Clean removes the helper fields from root in place. Objects left without
// any field are removed from their parent too.
func (sf ScrubFields) Clean(root *node.Node) {
	if sf == nil || !root.IsObject() {
		return
	}

	// deterministic order, deeper paths first so emptied parents are seen
	keys := lo.Keys(sf)
	sort.Slice(keys, func(i, j int) bool {
		di, dj := strings.Count(keys[i], "."), strings.Count(keys[j], ".")
		if di != dj {
			return di > dj
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		sf.clean(root, sf.unhash(key), sf[key])
	}
}

// fieldsFor returns the fields to remove from obj. Objects without
// __typename lose the fields listed for every type.
func fieldsFor(obj *node.Node, fields map[string][]string) []string {
	res := append([]string(nil), fields[""]...)
	tn, ok := obj.Get(common.TypenameFieldName)
	if !ok || !tn.IsScalar() {
		for _, typename := range lo.Keys(fields) {
			res = append(res, fields[typename]...)
		}
		return lo.Uniq(res)
	}
	typename, _ := tn.Value().(string)
	return lo.Uniq(append(res, fields[typename]...))
}

func (sf ScrubFields) clean(obj *node.Node, path []string, fields map[string][]string) bool {
	if len(path) == 0 {
		for _, f := range fieldsFor(obj, fields) {
			obj.Delete(f)
		}
		return obj.Len() == 0
	}

	p := path[0]
	child, ok := obj.Get(p)
	if !ok {
		return false
	}

	removeParent := true

	switch child.Kind() {
	case node.KindObject:
		removeParent = sf.clean(child, path[1:], fields)
	case node.KindList:
		items := child.Items()
		for _, item := range items {
			if item.IsObject() {
				toCleanParent := sf.clean(item, path[1:], fields)
				removeParent = removeParent && toCleanParent
			} else {
				removeParent = false
			}
		}
		if len(items) == 0 {
			removeParent = false
		}
	default:
		// case of null objects
		removeParent = false
	}

	if removeParent {
		obj.Delete(p)
	}

	return obj.Len() == 0
}
