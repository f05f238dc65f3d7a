package mcp

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

const (
	ServerName    = "viewmgr"
	ServerVersion = "0.1.0"
)

// ViewService is the daemon API the tools drive. *ipc.Client implements it.
type ViewService interface {
	GetStatus() (*ipc.StatusData, error)
	Connect() (node.ConnectionID, error)
	Disconnect(conn node.ConnectionID, policy node.OrphanPolicy) error
	CreateNode(conn node.ConnectionID) (node.ID, error)
	CreateNodeWithID(id node.ID) error
	AddNode(parent, child node.ID) error
	RemoveNode(parent, child node.ID) error
	ReorderNode(id, relative node.ID, dir node.Direction) error
	SetVisible(id node.ID, visible bool) error
	SetBounds(id node.ID, bounds platform.Rect) error
	SetBitmap(id node.ID, img *image.RGBA, enc bitmap.Encoding) error
	DestroyNode(id node.ID, policy node.OrphanPolicy) error
	GetNode(id node.ID) (*snapshot.NodeInfo, error)
	GetTree() (*snapshot.Tree, error)
	GetEvents(since uint64, wait time.Duration) ([]manager.Event, uint64, error)
	Snapshot(path string) (*ipc.SnapshotData, error)
}

var _ ViewService = (*ipc.Client)(nil)

// Options configures the MCP server.
type Options struct {
	// Policy is used for destroy_node calls that name none and for the
	// server's own connection on Close. Zero means callers must choose.
	Policy node.OrphanPolicy
	Logger *slog.Logger
}

// Server is the MCP server exposing the view hierarchy as tools.
type Server struct {
	mcpServer *mcpsdk.Server
	views     ViewService
	policy    node.OrphanPolicy
	logger    *slog.Logger

	mu   sync.Mutex
	conn node.ConnectionID
}

// NewServer creates an MCP server driving views.
func NewServer(views ViewService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		views:  views,
		policy: opts.Policy,
		logger: logger,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close disconnects the server's own connection, if one was opened and a
// default policy is configured.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = 0
	s.mu.Unlock()

	if conn == 0 {
		return nil
	}
	if s.policy == 0 {
		s.logger.Warn("leaving MCP connection open: no orphan policy configured", "connection", conn)
		return nil
	}
	if err := s.views.Disconnect(conn, s.policy); err != nil {
		return fmt.Errorf("failed to disconnect %d: %w", conn, err)
	}
	s.logger.Info("MCP connection closed", "connection", conn, "policy", s.policy.String())
	return nil
}

// connection returns the server's connection, opening it on first use.
func (s *Server) connection() (node.ConnectionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != 0 {
		return s.conn, nil
	}
	conn, err := s.views.Connect()
	if err != nil {
		return 0, err
	}
	s.conn = conn
	s.logger.Info("MCP connection opened", "connection", conn)
	return conn, nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "view_status",
		Description: "Show the view manager status: backend, root bounds, node count, open connections and the latest event sequence number.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "create_node",
		Description: "Create a node owned by this server's connection. New nodes are hidden and parentless unless parent/show are given. Returns the node id (connection:local).",
	}, s.handleCreateNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "add_node",
		Description: "Make child the topmost child of parent, detaching it from its current parent. Fails if parent is child or one of its descendants.",
	}, s.handleAddNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "remove_node",
		Description: "Detach child from parent. The child stays alive without a parent.",
	}, s.handleRemoveNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "reorder_node",
		Description: "Move a node directly above or below a sibling in stacking order. Later children are drawn on top.",
	}, s.handleReorderNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_visible",
		Description: "Show or hide a node. A node is drawn only when it and all of its ancestors are visible.",
	}, s.handleSetVisible)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "set_bounds",
		Description: "Move and resize a node relative to its parent.",
	}, s.handleSetBounds)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "fill_node",
		Description: "Replace a node's contents with a solid color bitmap. An empty color clears the contents.",
	}, s.handleFillNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "destroy_node",
		Description: "Destroy a node. Its children are promoted to parentless nodes, destroyed with it (cascade) or moved to the hidden holder (hold).",
	}, s.handleDestroyNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_node",
		Description: "Describe one node: parent, children bottom to top, visibility, bounds and bitmap digest.",
	}, s.handleGetNode)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_tree",
		Description: "List every live node and the ids of parentless nodes.",
	}, s.handleGetTree)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_events",
		Description: "Return hierarchy, stacking, visibility, bounds and bitmap events after a sequence number, optionally waiting for one to arrive.",
	}, s.handleGetEvents)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "snapshot",
		Description: "Write the node tree to a CBOR snapshot file on the daemon host.",
	}, s.handleSnapshot)
}
