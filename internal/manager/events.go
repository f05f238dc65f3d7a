package manager

import (
	"time"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
)

// EventKind classifies journal entries.
type EventKind string

const (
	EventHierarchy  EventKind = "hierarchy"
	EventStacking   EventKind = "stacking"
	EventVisibility EventKind = "visibility"
	EventBitmap     EventKind = "bitmap"
	EventBounds     EventKind = "bounds"
)

// Event is one node notification as forwarded to clients. Node is the node
// the notification was delivered to; for hierarchy and stacking events
// Child is the node that moved.
type Event struct {
	Seq       uint64         `json:"seq"`
	Time      time.Time      `json:"time"`
	Kind      EventKind      `json:"kind"`
	Node      node.ID        `json:"node"`
	Child     node.ID        `json:"child,omitzero"`
	OldParent node.ID        `json:"old_parent,omitzero"`
	NewParent node.ID        `json:"new_parent,omitzero"`
	Relative  node.ID        `json:"relative,omitzero"`
	Direction string         `json:"direction,omitempty"`
	Visible   *bool          `json:"visible,omitempty"`
	OldBounds *platform.Rect `json:"old_bounds,omitempty"`
	Bounds    *platform.Rect `json:"bounds,omitempty"`
	Bitmap    string         `json:"bitmap,omitempty"`
}

// The methods below make Manager the node.Delegate of every node. They run
// with m.mu held, inside the mutating call.

var _ node.Delegate = (*Manager)(nil)

func (m *Manager) OnHierarchyChanged(recipient *node.Node, change node.HierarchyChange) {
	m.record(Event{
		Kind:      EventHierarchy,
		Node:      recipient.ID(),
		Child:     change.Node,
		OldParent: change.OldParent,
		NewParent: change.NewParent,
	})
}

func (m *Manager) OnStackingChanged(parent *node.Node, child, relative node.ID, dir node.Direction) {
	m.record(Event{
		Kind:      EventStacking,
		Node:      parent.ID(),
		Child:     child,
		Relative:  relative,
		Direction: dir.String(),
	})
}

func (m *Manager) OnVisibilityChanged(n *node.Node, visible bool) {
	m.record(Event{Kind: EventVisibility, Node: n.ID(), Visible: &visible})
}

func (m *Manager) OnBitmapChanged(n *node.Node) {
	ev := Event{Kind: EventBitmap, Node: n.ID()}
	if d := bitmap.Sum(n.Bitmap()); !d.IsZero() {
		ev.Bitmap = d.String()
	}
	m.record(ev)
}

func (m *Manager) OnBoundsChanged(n *node.Node, oldBounds, newBounds platform.Rect) {
	m.record(Event{Kind: EventBounds, Node: n.ID(), OldBounds: &oldBounds, Bounds: &newBounds})
}

// record journals ev and publishes it to subscribers. Notifications about
// the orphan holder stay internal.
func (m *Manager) record(ev Event) {
	if ev.Node == node.HolderID {
		return
	}
	m.seq++
	ev.Seq = m.seq
	ev.Time = m.now()

	if len(m.journal) == m.journalCap {
		copy(m.journal, m.journal[1:])
		m.journal = m.journal[:len(m.journal)-1]
	}
	m.journal = append(m.journal, ev)

	m.logger.Debug("node event",
		"seq", ev.Seq,
		"kind", ev.Kind,
		"node", ev.Node,
		"child", ev.Child)

	for id, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("dropping event for slow subscriber", "subscriber", id, "seq", ev.Seq)
		}
	}
}
