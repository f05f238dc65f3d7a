package node

import (
	"fmt"

	"github.com/1broseidon/viewmgr/internal/platform"
)

// Direction places a node relative to a sibling in stacking order. Later
// children stack higher.
type Direction int

const (
	Above Direction = iota + 1
	Below
)

func (d Direction) String() string {
	switch d {
	case Above:
		return "above"
	case Below:
		return "below"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "above" or "below".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "above":
		return Above, nil
	case "below":
		return Below, nil
	default:
		return 0, fmt.Errorf("invalid direction %q: want above or below", s)
	}
}

// HierarchyChange describes one parent transition. A zero OldParent or
// NewParent means the node had or has no parent.
type HierarchyChange struct {
	Node      ID
	OldParent ID
	NewParent ID
}

// Delegate observes a node. Methods run synchronously inside the mutating
// call, after the tree is updated and before the call returns. They must
// not mutate the tree.
type Delegate interface {
	// OnHierarchyChanged is delivered to the old and the new parent of a
	// moved node, once each. recipient is the parent being notified.
	OnHierarchyChanged(recipient *Node, change HierarchyChange)
	// OnStackingChanged is delivered to the parent whose children were
	// reordered.
	OnStackingChanged(parent *Node, child, relative ID, dir Direction)
	OnVisibilityChanged(n *Node, visible bool)
	OnBitmapChanged(n *Node)
	OnBoundsChanged(n *Node, oldBounds, newBounds platform.Rect)
}

// NopDelegate ignores every notification. Embed it to observe a subset.
type NopDelegate struct{}

var _ Delegate = NopDelegate{}

func (NopDelegate) OnHierarchyChanged(*Node, HierarchyChange) {}
func (NopDelegate) OnStackingChanged(*Node, ID, ID, Direction) {}
func (NopDelegate) OnVisibilityChanged(*Node, bool) {}
func (NopDelegate) OnBitmapChanged(*Node) {}
func (NopDelegate) OnBoundsChanged(*Node, platform.Rect, platform.Rect) {}
