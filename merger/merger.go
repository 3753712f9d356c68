// Package merger combines partial response trees contributed by different
// sources into one tree.
package merger

import (
	"fmt"

	"github.com/buildbuildio/quarry/node"
	"github.com/buildbuildio/quarry/respath"
)

// ConflictError is returned when two contributors authored different leaf
// values at the same position. It is fatal for the request.
type ConflictError struct {
	Path  respath.Path
	Left  *node.Node
	Right *node.Node
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %q: %s != %s", e.Path.String(), e.Left, e.Right)
}

// Merge writes patch into base at mount and returns the resulting root.
//
// Objects are merged field by field and lists position by position. Null and
// Pending never replace authored content, while content replaces them. Equal
// leaves are accepted: a join step re-reads the key fields its parent step
// already wrote, f.e. the id of an entity. Different leaves produce a
// *ConflictError. Mounting below
// a list index that does not exist drops the patch.
//
// base is modified in place. patch is never retained.
func Merge(base, patch *node.Node, mount respath.Path) (*node.Node, error) {
	if base == nil {
		base = node.Null()
	}

	if mount.IsRoot() {
		if err := mergeInto(base, patch, respath.Root); err != nil {
			return nil, err
		}
		return base, nil
	}

	if base.IsNull() || base.IsPending() {
		base.Replace(node.Object())
	}

	target, ok := descend(base, mount)
	if !ok {
		return base, nil
	}

	if err := mergeInto(target, patch, mount); err != nil {
		return nil, err
	}
	return base, nil
}

// descend walks to mount creating missing objects on field segments.
func descend(root *node.Node, mount respath.Path) (*node.Node, bool) {
	cur := root
	for i, seg := range mount {
		last := i == len(mount)-1
		switch seg.Kind {
		case respath.KindField:
			if !cur.IsObject() {
				return nil, false
			}
			child, ok := cur.Get(seg.Name)
			if !ok {
				child = node.Pending()
				if !last {
					child = node.Object()
				}
				cur.Set(seg.Name, child)
			} else if !last && (child.IsNull() || child.IsPending()) {
				child.Replace(node.Object())
			}
			cur = child
		case respath.KindIndex:
			child, ok := cur.At(seg.Index)
			if !ok {
				return nil, false
			}
			if !last && (child.IsNull() || child.IsPending()) {
				child.Replace(node.Object())
			}
			cur = child
		default:
			return nil, false
		}
	}
	return cur, true
}

func mergeInto(dst, src *node.Node, path respath.Path) error {
	switch {
	case src.IsPending():
		return nil
	case src.IsNull():
		if dst.IsPending() {
			dst.SetNull()
		}
		return nil
	case dst.IsNull() || dst.IsPending():
		dst.Replace(src)
		return nil
	}

	switch {
	case dst.IsObject() && src.IsObject():
		for _, key := range src.Keys() {
			srcChild, _ := src.Get(key)
			dstChild, ok := dst.Get(key)
			if !ok {
				dst.Set(key, srcChild.Clone())
				continue
			}
			if err := mergeInto(dstChild, srcChild, path.Field(key)); err != nil {
				return err
			}
		}
		return nil
	case dst.IsList() && src.IsList():
		srcItems := src.Items()
		for i, srcItem := range srcItems {
			dstItem, ok := dst.At(i)
			if !ok {
				// the longer side keeps its trailing items
				for _, rest := range srcItems[i:] {
					dst.Append(rest.Clone())
				}
				return nil
			}
			if err := mergeInto(dstItem, srcItem, path.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case dst.IsScalar() && src.IsScalar():
		// key fields written by both sides of a join
		if node.Equal(dst, src) {
			return nil
		}
	}

	return &ConflictError{Path: path, Left: dst.Clone(), Right: src.Clone()}
}
