// Package node implements the response tree shared by every stage of execution.
//
// A Node is a tagged value: Null, Scalar, Object, List or Pending. Objects keep
// the order in which fields were first written, fields unknown to the client
// selection are serialized in that order. The zero Node is Null.
package node

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/buildbuildio/quarry/respath"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindObject
	KindList
	// KindPending marks a position that a step was expected to fill but has not yet.
	KindPending
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindPending:
		return "pending"
	default:
		return "null"
	}
}

// Node is one value of the response tree.
type Node struct {
	kind   Kind
	scalar interface{}
	keys   []string
	fields map[string]*Node
	items  []*Node
}

// Null returns a new null node.
func Null() *Node {
	return &Node{kind: KindNull}
}

// Pending returns a placeholder node.
func Pending() *Node {
	return &Node{kind: KindPending}
}

// Scalar wraps a JSON scalar. A nil value produces a null node.
func Scalar(v interface{}) *Node {
	if v == nil {
		return Null()
	}
	return &Node{kind: KindScalar, scalar: v}
}

// Object returns an empty object node.
func Object() *Node {
	return &Node{kind: KindObject, fields: make(map[string]*Node)}
}

// List returns a list node holding items.
func List(items ...*Node) *Node {
	if items == nil {
		items = []*Node{}
	}
	return &Node{kind: KindList, items: items}
}

func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

// IsNull reports whether n is null. A nil *Node is null.
func (n *Node) IsNull() bool { return n.Kind() == KindNull }

func (n *Node) IsPending() bool { return n.Kind() == KindPending }
func (n *Node) IsObject() bool  { return n.Kind() == KindObject }
func (n *Node) IsList() bool    { return n.Kind() == KindList }
func (n *Node) IsScalar() bool  { return n.Kind() == KindScalar }

// IsLeaf reports whether n carries no children: scalars and lists of scalars.
func (n *Node) IsLeaf() bool {
	switch n.Kind() {
	case KindScalar:
		return true
	case KindList:
		for _, item := range n.items {
			if item.IsObject() || item.IsList() {
				return false
			}
		}
		return true
	}
	return false
}

// Value returns the scalar value, nil for anything else.
func (n *Node) Value() interface{} {
	if n.Kind() != KindScalar {
		return nil
	}
	return n.scalar
}

// Get returns the field of an object node.
func (n *Node) Get(name string) (*Node, bool) {
	if n.Kind() != KindObject {
		return nil, false
	}
	v, ok := n.fields[name]
	return v, ok
}

// Set writes a field of an object node keeping first insertion order.
func (n *Node) Set(name string, value *Node) {
	if n.kind != KindObject {
		panic(fmt.Sprintf("node: Set on %s node", n.kind))
	}
	if value == nil {
		value = Null()
	}
	if _, ok := n.fields[name]; !ok {
		n.keys = append(n.keys, name)
	}
	n.fields[name] = value
}

// Delete removes a field of an object node.
func (n *Node) Delete(name string) {
	if n.Kind() != KindObject {
		return
	}
	if _, ok := n.fields[name]; !ok {
		return
	}
	delete(n.fields, name)
	for i, k := range n.keys {
		if k == name {
			n.keys = append(n.keys[:i:i], n.keys[i+1:]...)
			break
		}
	}
}

// Keys returns object field names in order.
func (n *Node) Keys() []string {
	if n.Kind() != KindObject {
		return nil
	}
	return append([]string(nil), n.keys...)
}

// Len returns the number of fields or items.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindObject:
		return len(n.keys)
	case KindList:
		return len(n.items)
	}
	return 0
}

// Items returns the items of a list node.
func (n *Node) Items() []*Node {
	if n.Kind() != KindList {
		return nil
	}
	return n.items
}

// At returns the list item at i.
func (n *Node) At(i int) (*Node, bool) {
	if n.Kind() != KindList || i < 0 || i >= len(n.items) {
		return nil, false
	}
	return n.items[i], true
}

// SetAt replaces the list item at i. It reports false when i is out of range.
func (n *Node) SetAt(i int, value *Node) bool {
	if n.Kind() != KindList || i < 0 || i >= len(n.items) {
		return false
	}
	if value == nil {
		value = Null()
	}
	n.items[i] = value
	return true
}

// Append adds items to a list node.
func (n *Node) Append(items ...*Node) {
	if n.kind != KindList {
		panic(fmt.Sprintf("node: Append on %s node", n.kind))
	}
	n.items = append(n.items, items...)
}

// SetNull turns n into null in place and drops everything below it.
func (n *Node) SetNull() {
	n.kind = KindNull
	n.scalar = nil
	n.keys = nil
	n.fields = nil
	n.items = nil
}

// Replace makes n a copy of other in place, so parents holding n see the new value.
func (n *Node) Replace(other *Node) {
	if other == nil {
		n.SetNull()
		return
	}
	*n = *other.Clone()
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return Null()
	}
	c := &Node{kind: n.kind, scalar: n.scalar}
	switch n.kind {
	case KindObject:
		c.keys = append([]string(nil), n.keys...)
		c.fields = make(map[string]*Node, len(n.fields))
		for k, v := range n.fields {
			c.fields[k] = v.Clone()
		}
	case KindList:
		c.items = make([]*Node, len(n.items))
		for i, v := range n.items {
			c.items[i] = v.Clone()
		}
	}
	return c
}

// Lookup follows path from n.
func (n *Node) Lookup(path respath.Path) (*Node, bool) {
	cur := n
	for _, seg := range path {
		var ok bool
		switch seg.Kind {
		case respath.KindField:
			cur, ok = cur.Get(seg.Name)
		case respath.KindIndex:
			cur, ok = cur.At(seg.Index)
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Expand resolves a pattern against the tree and returns every concrete path
// reaching an existing node, in depth-first order. Null and missing nodes on
// the way are skipped.
func (n *Node) Expand(pattern respath.Path) []respath.Path {
	var res []respath.Path
	var walk func(cur *Node, at respath.Path, rest respath.Path)
	walk = func(cur *Node, at respath.Path, rest respath.Path) {
		if cur == nil || cur.IsNull() || cur.IsPending() {
			return
		}
		if len(rest) == 0 {
			res = append(res, at)
			return
		}
		seg := rest[0]
		switch seg.Kind {
		case respath.KindField:
			if child, ok := cur.Get(seg.Name); ok {
				walk(child, at.Field(seg.Name), rest[1:])
			}
		case respath.KindIndex:
			if child, ok := cur.At(seg.Index); ok {
				walk(child, at.Index(seg.Index), rest[1:])
			}
		case respath.KindAny:
			for i, child := range cur.Items() {
				walk(child, at.Index(i), rest[1:])
			}
		}
	}
	walk(n, respath.Root, pattern)
	return res
}

// Equal compares two trees. Object field order is ignored.
func Equal(a, b *Node) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindScalar:
		return scalarEqual(a.scalar, b.scalar)
	case KindObject:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindList:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	}
	return true
}

func scalarEqual(a, b interface{}) bool {
	an, aok := a.(json.Number)
	bn, bok := b.(json.Number)
	if aok || bok {
		return fmt.Sprint(normalizeNumber(a, an, aok)) == fmt.Sprint(normalizeNumber(b, bn, bok))
	}
	return reflect.DeepEqual(a, b)
}

func normalizeNumber(raw interface{}, n json.Number, isNumber bool) interface{} {
	if !isNumber {
		return raw
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return string(n)
}

// FromInterface builds a tree from decoded JSON values (map[string]interface{},
// []interface{} and scalars). Map keys are sorted since Go maps carry no order.
func FromInterface(v interface{}) *Node {
	switch val := v.(type) {
	case nil:
		return Null()
	case *Node:
		return val
	case map[string]interface{}:
		obj := Object()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, FromInterface(val[k]))
		}
		return obj
	case []interface{}:
		items := make([]*Node, len(val))
		for i, item := range val {
			items[i] = FromInterface(item)
		}
		return List(items...)
	case []map[string]interface{}:
		items := make([]*Node, len(val))
		for i, item := range val {
			items[i] = FromInterface(item)
		}
		return List(items...)
	default:
		return Scalar(val)
	}
}

// Interface converts the tree back to plain Go values. Pending becomes nil.
func (n *Node) Interface() interface{} {
	switch n.Kind() {
	case KindScalar:
		return n.scalar
	case KindObject:
		res := make(map[string]interface{}, len(n.fields))
		for k, v := range n.fields {
			res[k] = v.Interface()
		}
		return res
	case KindList:
		res := make([]interface{}, len(n.items))
		for i, v := range n.items {
			res[i] = v.Interface()
		}
		return res
	}
	return nil
}

func (n *Node) String() string {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Sprintf("<%s>", n.Kind())
	}
	return string(b)
}
