package mcp

import (
	"time"

	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// StatusInput is the input for the view_status tool.
type StatusInput struct{}

// StatusOutput is the output for the view_status tool.
type StatusOutput struct {
	Backend     string              `json:"backend"`
	RootBounds  platform.Rect       `json:"root_bounds"`
	Nodes       int                 `json:"nodes"`
	Connections []node.ConnectionID `json:"connections"`
	EventSeq    uint64              `json:"event_seq"`
	Connection  node.ConnectionID   `json:"connection,omitempty"`
}

// CreateNodeInput is the input for the create_node tool.
type CreateNodeInput struct {
	ID     string `json:"id,omitempty" jsonschema:"Optional node id to create, as connection:local. Must belong to this server's connection. Default: next free id."`
	Parent string `json:"parent,omitempty" jsonschema:"Optional parent node id; the new node is added on top of its children"`
	Show   bool   `json:"show,omitempty" jsonschema:"When true, make the node visible after creating it"`
}

// NodeOutput identifies a node.
type NodeOutput struct {
	ID string `json:"id"`
}

// ParentChildInput is the input for the add_node and remove_node tools.
type ParentChildInput struct {
	Parent string `json:"parent" jsonschema:"required,Parent node id (connection:local)"`
	Child  string `json:"child" jsonschema:"required,Child node id (connection:local)"`
}

// ReorderNodeInput is the input for the reorder_node tool.
type ReorderNodeInput struct {
	Node      string `json:"node" jsonschema:"required,Node to move"`
	Relative  string `json:"relative" jsonschema:"required,Sibling to place the node next to"`
	Direction string `json:"direction" jsonschema:"required,above or below"`
}

// SetVisibleInput is the input for the set_visible tool.
type SetVisibleInput struct {
	Node    string `json:"node" jsonschema:"required,Node id"`
	Visible bool   `json:"visible" jsonschema:"required,New visibility"`
}

// SetBoundsInput is the input for the set_bounds tool.
type SetBoundsInput struct {
	Node   string `json:"node" jsonschema:"required,Node id"`
	X      int    `json:"x" jsonschema:"Left edge relative to the parent"`
	Y      int    `json:"y" jsonschema:"Top edge relative to the parent"`
	Width  int    `json:"width" jsonschema:"required,Width in pixels"`
	Height int    `json:"height" jsonschema:"required,Height in pixels"`
}

// FillNodeInput is the input for the fill_node tool.
type FillNodeInput struct {
	Node   string `json:"node" jsonschema:"required,Node id"`
	Color  string `json:"color" jsonschema:"required,Fill color as #rrggbb or #rrggbbaa. Empty string clears the contents."`
	Width  int    `json:"width,omitempty" jsonschema:"Bitmap width (default: node width)"`
	Height int    `json:"height,omitempty" jsonschema:"Bitmap height (default: node height)"`
}

// FillNodeOutput is the output for the fill_node tool.
type FillNodeOutput struct {
	Digest string `json:"digest,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DestroyNodeInput is the input for the destroy_node tool.
type DestroyNodeInput struct {
	Node   string `json:"node" jsonschema:"required,Node id"`
	Policy string `json:"policy,omitempty" jsonschema:"What happens to children: promote, cascade or hold (default: the server's --orphan-policy)"`
}

// GetNodeInput is the input for the get_node tool.
type GetNodeInput struct {
	Node string `json:"node" jsonschema:"required,Node id"`
}

// GetTreeInput is the input for the get_tree tool.
type GetTreeInput struct{}

// GetTreeOutput is the output for the get_tree tool.
type GetTreeOutput struct {
	Nodes []NodeView `json:"nodes"`
	Roots []string   `json:"roots"`
}

// GetEventsInput is the input for the get_events tool.
type GetEventsInput struct {
	Since   uint64 `json:"since,omitempty" jsonschema:"Return events after this sequence number (default: 0)"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"Seconds to wait for an event when none are pending (default: 0, max 30)"`
}

// GetEventsOutput is the output for the get_events tool.
type GetEventsOutput struct {
	Events []EventView `json:"events"`
	Seq    uint64      `json:"seq"`
}

// SnapshotInput is the input for the snapshot tool.
type SnapshotInput struct {
	Path string `json:"path,omitempty" jsonschema:"File name inside the daemon's snapshot directory (default: the daemon's snapshot path)"`
}

// SnapshotOutput is the output for the snapshot tool.
type SnapshotOutput struct {
	Path  string `json:"path"`
	Nodes int    `json:"nodes"`
}

// EmptyOutput is returned by tools with nothing to report.
type EmptyOutput struct {
	OK bool `json:"ok"`
}

// NodeView describes one node with ids in connection:local form.
type NodeView struct {
	ID           string        `json:"id"`
	Parent       string        `json:"parent,omitempty"`
	Children     []string      `json:"children"`
	Visible      bool          `json:"visible"`
	Drawn        bool          `json:"drawn"`
	Bounds       platform.Rect `json:"bounds"`
	BitmapDigest string        `json:"bitmap_digest,omitempty"`
	BitmapWidth  int           `json:"bitmap_width,omitempty"`
	BitmapHeight int           `json:"bitmap_height,omitempty"`
}

func nodeView(info snapshot.NodeInfo) NodeView {
	v := NodeView{
		ID:           info.ID.String(),
		Children:     make([]string, 0, len(info.Children)),
		Visible:      info.Visible,
		Drawn:        info.Drawn,
		Bounds:       info.Bounds,
		BitmapDigest: info.BitmapDigest,
		BitmapWidth:  info.BitmapWidth,
		BitmapHeight: info.BitmapHeight,
	}
	if !info.Parent.IsZero() {
		v.Parent = info.Parent.String()
	}
	for _, c := range info.Children {
		v.Children = append(v.Children, c.String())
	}
	return v
}

// EventView is one node event with ids in connection:local form.
type EventView struct {
	Seq       uint64         `json:"seq"`
	Time      string         `json:"time"`
	Kind      string         `json:"kind"`
	Node      string         `json:"node"`
	Child     string         `json:"child,omitempty"`
	OldParent string         `json:"old_parent,omitempty"`
	NewParent string         `json:"new_parent,omitempty"`
	Relative  string         `json:"relative,omitempty"`
	Direction string         `json:"direction,omitempty"`
	Visible   *bool          `json:"visible,omitempty"`
	OldBounds *platform.Rect `json:"old_bounds,omitempty"`
	Bounds    *platform.Rect `json:"bounds,omitempty"`
	Bitmap    string         `json:"bitmap,omitempty"`
}

func eventView(ev manager.Event) EventView {
	return EventView{
		Seq:       ev.Seq,
		Time:      ev.Time.Format(time.RFC3339Nano),
		Kind:      string(ev.Kind),
		Node:      ev.Node.String(),
		Child:     idString(ev.Child),
		OldParent: idString(ev.OldParent),
		NewParent: idString(ev.NewParent),
		Relative:  idString(ev.Relative),
		Direction: ev.Direction,
		Visible:   ev.Visible,
		OldBounds: ev.OldBounds,
		Bounds:    ev.Bounds,
		Bitmap:    ev.Bitmap,
	}
}

func idString(id node.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}
