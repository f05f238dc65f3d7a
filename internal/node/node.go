package node

import (
	"fmt"
	"image"
	"slices"

	"github.com/1broseidon/viewmgr/internal/platform"
)

// Node is one entry in the view hierarchy. Nodes are owned by a Registry;
// parent and child links are ids resolved through it. Node methods are not
// safe for concurrent use.
type Node struct {
	id       ID
	registry *Registry
	delegate Delegate
	surface  platform.Surface

	parent   ID
	children []ID

	visible bool
	bounds  platform.Rect
	bitmap  *image.RGBA

	destroyed bool
}

func (n *Node) ID() ID { return n.id }

// Surface returns the native surface owned by the node.
func (n *Node) Surface() platform.Surface { return n.surface }

// Destroyed reports whether the registry has destroyed the node.
func (n *Node) Destroyed() bool { return n.destroyed }

// ParentID returns the parent's id, or the zero ID for a parentless node.
func (n *Node) ParentID() ID { return n.parent }

// Parent returns the parent node, or nil.
func (n *Node) Parent() *Node {
	if n.parent.IsZero() {
		return nil
	}
	return n.registry.nodes[n.parent]
}

// Root follows parent links to the parentless ancestor. A parentless node
// is its own root.
func (n *Node) Root() *Node {
	root := n
	for p := n.Parent(); p != nil; p = p.Parent() {
		root = p
	}
	return root
}

// Children returns a copy of the child list, bottom of the stack first.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, n.registry.nodes[id])
	}
	return out
}

// ChildIDs returns a copy of the child id list, bottom of the stack first.
func (n *Node) ChildIDs() []ID {
	return slices.Clone(n.children)
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	if other == nil {
		return false
	}
	for p := other; p != nil; p = p.Parent() {
		if p == n {
			return true
		}
	}
	return false
}

// Depth is the number of ancestors above n.
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent(); p != nil; p = p.Parent() {
		depth++
	}
	return depth
}

// IsVisible returns the local visibility flag. Ancestors are not considered.
func (n *Node) IsVisible() bool { return n.visible }

// IsDrawn reports whether n and all of its ancestors are visible.
func (n *Node) IsDrawn() bool {
	for p := n; p != nil; p = p.Parent() {
		if !p.visible {
			return false
		}
	}
	return true
}

func (n *Node) Bounds() platform.Rect { return n.bounds }

// Bitmap returns the current contents, or nil.
func (n *Node) Bitmap() *image.RGBA { return n.bitmap }

// Add makes child the topmost child of n, detaching it from its current
// parent in the same step. The old parent and n are each notified once.
func (n *Node) Add(child *Node) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if child == nil || child.destroyed {
		return fmt.Errorf("%w: add to %s", ErrUnknownNode, n.id)
	}
	if n.registry.isProtected(child.id) {
		return fmt.Errorf("%w: %s cannot be moved", ErrProtectedNode, child.id)
	}
	if child.Contains(n) {
		return fmt.Errorf("%w: %s is %s or one of its ancestors", ErrCycle, child.id, n.id)
	}

	if err := child.surface.Reparent(n.surface); err != nil {
		return fmt.Errorf("%w: reparent %s under %s: %w", ErrSurface, child.id, n.id, err)
	}

	oldParent := child.Parent()
	if oldParent != nil {
		oldParent.children = removeID(oldParent.children, child.id)
	}
	child.parent = n.id
	n.children = append(n.children, child.id)

	change := HierarchyChange{Node: child.id, NewParent: n.id}
	if oldParent != nil {
		change.OldParent = oldParent.id
		if oldParent != n {
			oldParent.delegate.OnHierarchyChanged(oldParent, change)
		}
	}
	n.delegate.OnHierarchyChanged(n, change)
	return nil
}

// Remove detaches child from n. The child stays alive and parentless.
func (n *Node) Remove(child *Node) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if child == nil || child.destroyed || child.parent != n.id {
		return fmt.Errorf("%w: %s", ErrNotChild, describe(child, n))
	}

	if err := child.surface.Reparent(nil); err != nil {
		return fmt.Errorf("%w: detach %s from %s: %w", ErrSurface, child.id, n.id, err)
	}

	n.children = removeID(n.children, child.id)
	child.parent = ID{}

	n.delegate.OnHierarchyChanged(n, HierarchyChange{Node: child.id, OldParent: n.id})
	return nil
}

// Reorder moves child directly above or below relative. Both must be
// distinct children of n. Reordering into the current position does
// nothing.
func (n *Node) Reorder(child, relative *Node, dir Direction) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if dir != Above && dir != Below {
		return fmt.Errorf("reorder: invalid direction %v", dir)
	}
	if child == nil || relative == nil || child == relative ||
		child.destroyed || relative.destroyed ||
		child.parent != n.id || relative.parent != n.id {
		return fmt.Errorf("%w: reorder under %s", ErrNotSibling, n.id)
	}

	ci := slices.Index(n.children, child.id)
	ri := slices.Index(n.children, relative.id)
	if (dir == Above && ci == ri+1) || (dir == Below && ci == ri-1) {
		return nil
	}

	if err := child.surface.Restack(relative.surface, dir == Above); err != nil {
		return fmt.Errorf("%w: restack %s %v %s: %w", ErrSurface, child.id, dir, relative.id, err)
	}

	order := removeID(n.children, child.id)
	ri = slices.Index(order, relative.id)
	if dir == Above {
		ri++
	}
	n.children = slices.Insert(order, ri, child.id)

	n.delegate.OnStackingChanged(n, child.id, relative.id, dir)
	return nil
}

// SetVisible sets the local visibility flag. Setting the current value is a
// no-op.
func (n *Node) SetVisible(visible bool) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if n.visible == visible {
		return nil
	}
	if err := n.surface.SetVisible(visible); err != nil {
		return fmt.Errorf("%w: set visible %s: %w", ErrSurface, n.id, err)
	}
	n.visible = visible
	n.delegate.OnVisibilityChanged(n, visible)
	return nil
}

// SetBitmap replaces the node's contents. Bounds are left alone.
func (n *Node) SetBitmap(img *image.RGBA) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if err := n.surface.Paint(img); err != nil {
		return fmt.Errorf("%w: paint %s: %w", ErrSurface, n.id, err)
	}
	n.bitmap = img
	n.delegate.OnBitmapChanged(n)
	return nil
}

// SetBounds moves and resizes the node relative to its parent.
func (n *Node) SetBounds(bounds platform.Rect) error {
	if err := n.checkLive(); err != nil {
		return err
	}
	if bounds.Width < 0 || bounds.Height < 0 {
		return fmt.Errorf("set bounds %s: negative size %s", n.id, bounds)
	}
	if n.bounds == bounds {
		return nil
	}
	if err := n.surface.SetBounds(bounds); err != nil {
		return fmt.Errorf("%w: set bounds %s: %w", ErrSurface, n.id, err)
	}
	old := n.bounds
	n.bounds = bounds
	n.delegate.OnBoundsChanged(n, old, bounds)
	return nil
}

func (n *Node) checkLive() error {
	if n.destroyed {
		return fmt.Errorf("%w: %s", ErrUnknownNode, n.id)
	}
	return nil
}

func describe(child, parent *Node) string {
	if child == nil {
		return fmt.Sprintf("<nil> under %s", parent.id)
	}
	return fmt.Sprintf("%s under %s", child.id, parent.id)
}

func removeID(ids []ID, id ID) []ID {
	return slices.DeleteFunc(ids, func(c ID) bool { return c == id })
}
