package mcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
)

// maxEventTimeout caps get_events waits, in seconds.
const maxEventTimeout = int(ipc.MaxEventWait / time.Second)

func (s *Server) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := s.views.GetStatus()
	if err != nil {
		return nil, StatusOutput{}, err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return nil, StatusOutput{
		Backend:     st.Backend,
		RootBounds:  st.RootBounds,
		Nodes:       st.Nodes,
		Connections: st.Connections,
		EventSeq:    st.EventSeq,
		Connection:  conn,
	}, nil
}

func (s *Server) handleCreateNode(_ context.Context, _ *mcpsdk.CallToolRequest, args CreateNodeInput) (*mcpsdk.CallToolResult, NodeOutput, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, NodeOutput{}, err
	}

	var id node.ID
	if args.ID != "" {
		id, err = node.ParseID(args.ID)
		if err != nil {
			return nil, NodeOutput{}, err
		}
		if id.Connection != conn {
			return nil, NodeOutput{}, fmt.Errorf("node id %s must belong to connection %d", id, conn)
		}
		if err := s.views.CreateNodeWithID(id); err != nil {
			return nil, NodeOutput{}, err
		}
	} else {
		id, err = s.views.CreateNode(conn)
		if err != nil {
			return nil, NodeOutput{}, err
		}
	}

	if args.Parent != "" {
		parent, err := node.ParseID(args.Parent)
		if err != nil {
			return nil, NodeOutput{}, err
		}
		if err := s.views.AddNode(parent, id); err != nil {
			return nil, NodeOutput{}, fmt.Errorf("created %s but could not add it to %s: %w", id, parent, err)
		}
	}
	if args.Show {
		if err := s.views.SetVisible(id, true); err != nil {
			return nil, NodeOutput{}, fmt.Errorf("created %s but could not show it: %w", id, err)
		}
	}
	s.logger.Debug("MCP node created", "node", id)
	return nil, NodeOutput{ID: id.String()}, nil
}

func (s *Server) handleAddNode(_ context.Context, _ *mcpsdk.CallToolRequest, args ParentChildInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	parent, child, err := parsePair(args.Parent, args.Child)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return done(s.views.AddNode(parent, child))
}

func (s *Server) handleRemoveNode(_ context.Context, _ *mcpsdk.CallToolRequest, args ParentChildInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	parent, child, err := parsePair(args.Parent, args.Child)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return done(s.views.RemoveNode(parent, child))
}

func (s *Server) handleReorderNode(_ context.Context, _ *mcpsdk.CallToolRequest, args ReorderNodeInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	id, relative, err := parsePair(args.Node, args.Relative)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	dir, err := node.ParseDirection(strings.ToLower(args.Direction))
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return done(s.views.ReorderNode(id, relative, dir))
}

func (s *Server) handleSetVisible(_ context.Context, _ *mcpsdk.CallToolRequest, args SetVisibleInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	id, err := node.ParseID(args.Node)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return done(s.views.SetVisible(id, args.Visible))
}

func (s *Server) handleSetBounds(_ context.Context, _ *mcpsdk.CallToolRequest, args SetBoundsInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	id, err := node.ParseID(args.Node)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return done(s.views.SetBounds(id, platform.Rect{X: args.X, Y: args.Y, Width: args.Width, Height: args.Height}))
}

func (s *Server) handleFillNode(_ context.Context, _ *mcpsdk.CallToolRequest, args FillNodeInput) (*mcpsdk.CallToolResult, FillNodeOutput, error) {
	id, err := node.ParseID(args.Node)
	if err != nil {
		return nil, FillNodeOutput{}, err
	}
	if args.Color == "" {
		if err := s.views.SetBitmap(id, nil, bitmap.EncodingNone); err != nil {
			return nil, FillNodeOutput{}, err
		}
		return nil, FillNodeOutput{}, nil
	}

	c, err := parseColor(args.Color)
	if err != nil {
		return nil, FillNodeOutput{}, err
	}
	width, height := args.Width, args.Height
	if width <= 0 || height <= 0 {
		info, err := s.views.GetNode(id)
		if err != nil {
			return nil, FillNodeOutput{}, err
		}
		if width <= 0 {
			width = info.Bounds.Width
		}
		if height <= 0 {
			height = info.Bounds.Height
		}
	}
	if width <= 0 || height <= 0 {
		return nil, FillNodeOutput{}, fmt.Errorf("node %s has no size; pass width and height", id)
	}
	if width > bitmap.MaxPixels/height {
		return nil, FillNodeOutput{}, fmt.Errorf("bitmap %dx%d exceeds %d pixels", width, height, bitmap.MaxPixels)
	}

	img := solidImage(width, height, c)
	if err := s.views.SetBitmap(id, img, bitmap.EncodingZstd); err != nil {
		return nil, FillNodeOutput{}, err
	}
	return nil, FillNodeOutput{Digest: bitmap.Sum(img).String(), Width: width, Height: height}, nil
}

func (s *Server) handleDestroyNode(_ context.Context, _ *mcpsdk.CallToolRequest, args DestroyNodeInput) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	id, err := node.ParseID(args.Node)
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	policy := s.policy
	if args.Policy != "" {
		policy, err = node.ParseOrphanPolicy(strings.ToLower(args.Policy))
		if err != nil {
			return nil, EmptyOutput{}, err
		}
	}
	if policy == 0 {
		return nil, EmptyOutput{}, fmt.Errorf("%w: pass policy (promote, cascade or hold)", node.ErrPolicyRequired)
	}
	return done(s.views.DestroyNode(id, policy))
}

func (s *Server) handleGetNode(_ context.Context, _ *mcpsdk.CallToolRequest, args GetNodeInput) (*mcpsdk.CallToolResult, NodeView, error) {
	id, err := node.ParseID(args.Node)
	if err != nil {
		return nil, NodeView{}, err
	}
	info, err := s.views.GetNode(id)
	if err != nil {
		return nil, NodeView{}, err
	}
	return nil, nodeView(*info), nil
}

func (s *Server) handleGetTree(_ context.Context, _ *mcpsdk.CallToolRequest, _ GetTreeInput) (*mcpsdk.CallToolResult, GetTreeOutput, error) {
	tree, err := s.views.GetTree()
	if err != nil {
		return nil, GetTreeOutput{}, err
	}
	out := GetTreeOutput{Nodes: make([]NodeView, 0, len(tree.Nodes)), Roots: []string{}}
	for _, info := range tree.Nodes {
		out.Nodes = append(out.Nodes, nodeView(info))
	}
	for _, id := range tree.Roots() {
		out.Roots = append(out.Roots, id.String())
	}
	return nil, out, nil
}

func (s *Server) handleGetEvents(_ context.Context, _ *mcpsdk.CallToolRequest, args GetEventsInput) (*mcpsdk.CallToolResult, GetEventsOutput, error) {
	timeout := args.Timeout
	if timeout < 0 {
		timeout = 0
	}
	if timeout > maxEventTimeout {
		timeout = maxEventTimeout
	}
	events, seq, err := s.views.GetEvents(args.Since, time.Duration(timeout)*time.Second)
	if err != nil {
		return nil, GetEventsOutput{}, err
	}
	out := GetEventsOutput{Events: make([]EventView, 0, len(events)), Seq: seq}
	for _, ev := range events {
		out.Events = append(out.Events, eventView(ev))
	}
	return nil, out, nil
}

func (s *Server) handleSnapshot(_ context.Context, _ *mcpsdk.CallToolRequest, args SnapshotInput) (*mcpsdk.CallToolResult, SnapshotOutput, error) {
	data, err := s.views.Snapshot(args.Path)
	if err != nil {
		return nil, SnapshotOutput{}, err
	}
	return nil, SnapshotOutput{Path: data.Path, Nodes: data.Nodes}, nil
}

func done(err error) (*mcpsdk.CallToolResult, EmptyOutput, error) {
	if err != nil {
		return nil, EmptyOutput{}, err
	}
	return nil, EmptyOutput{OK: true}, nil
}

func parsePair(a, b string) (node.ID, node.ID, error) {
	first, err := node.ParseID(a)
	if err != nil {
		return node.ID{}, node.ID{}, err
	}
	second, err := node.ParseID(b)
	if err != nil {
		return node.ID{}, node.ID{}, err
	}
	return first, second, nil
}

// parseColor accepts #rrggbb or #rrggbbaa.
func parseColor(s string) (color.RGBA, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || (len(raw) != 3 && len(raw) != 4) {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #rrggbb or #rrggbbaa", s)
	}
	c := color.RGBA{R: raw[0], G: raw[1], B: raw[2], A: 0xff}
	if len(raw) == 4 {
		c.A = raw[3]
	}
	return c, nil
}

func solidImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := []byte{c.R, c.G, c.B, c.A}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], pix)
	}
	return img
}
