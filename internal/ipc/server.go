package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/runtimepath"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// ServerOptions configures a Server. Zero values select the runtime
// directory defaults.
type ServerOptions struct {
	SocketPath   string
	SnapshotPath string
	Logger       *slog.Logger
}

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	snapshotPath string
	listener     net.Listener
	mgr          *manager.Manager
	logger       *slog.Logger
	startTime    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	shuttingDown bool
	shutdownMu   sync.Mutex
	conns        sync.WaitGroup
}

// NewServer creates a new IPC server
func NewServer(mgr *manager.Manager, opts ServerOptions) (*Server, error) {
	socketPath := opts.SocketPath
	if socketPath == "" {
		p, err := runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
		socketPath = p
	}
	snapshotPath := opts.SnapshotPath
	if snapshotPath == "" {
		p, err := runtimepath.SnapshotPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve snapshot path: %w", err)
		}
		snapshotPath = p
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:   socketPath,
		snapshotPath: snapshotPath,
		mgr:          mgr,
		logger:       logger,
		startTime:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			s.logger.Warn("IPC accept error", "error", err)
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves newline-delimited requests until the client
// hangs up.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		data, err := reader.ReadBytes('\n')
		if len(data) > 0 {
			var resp *Response
			req, perr := ParseRequest(data)
			if perr != nil {
				resp = NewErrorResponse(CodeBadRequest, fmt.Sprintf("Invalid request: %v", perr))
			} else {
				resp = s.dispatch(s.ctx, req)
			}
			if werr := s.writeResponse(conn, resp); werr != nil {
				s.logger.Warn("failed to send IPC response", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isShuttingDown() {
				s.logger.Warn("IPC read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) writeResponse(w io.Writer, resp *Response) error {
	data, err := resp.Marshal()
	if err != nil {
		data, _ = NewErrorResponse(CodeInternal, fmt.Sprintf("failed to marshal response: %v", err)).Marshal()
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// dispatch runs one request. A panicking handler fails that request only.
func (s *Server) dispatch(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("IPC handler panic recovered", "command", req.Command, "error", err, "stack", string(debug.Stack()))
			resp = NewErrorResponse(CodeInternal, fmt.Sprintf("internal error handling %s", req.Command))
		}
	}()
	return s.handleCommand(ctx, req)
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(ctx context.Context, req *Request) *Response {
	switch req.Command {
	case CommandGetStatus:
		return s.handleGetStatus()
	case CommandConnect:
		return s.handleConnect()
	case CommandDisconnect:
		return s.handleDisconnect(req.Payload)
	case CommandCreateNode:
		return s.handleCreateNode(req.Payload)
	case CommandAddNode:
		return s.handleAddNode(req.Payload)
	case CommandRemoveNode:
		return s.handleRemoveNode(req.Payload)
	case CommandReorderNode:
		return s.handleReorderNode(req.Payload)
	case CommandSetVisible:
		return s.handleSetVisible(req.Payload)
	case CommandSetBounds:
		return s.handleSetBounds(req.Payload)
	case CommandSetBitmap:
		return s.handleSetBitmap(req.Payload)
	case CommandDestroyNode:
		return s.handleDestroyNode(req.Payload)
	case CommandGetNode:
		return s.handleGetNode(req.Payload)
	case CommandGetTree:
		return okResponse(s.mgr.Tree())
	case CommandGetEvents:
		return s.handleGetEvents(ctx, req.Payload)
	case CommandSnapshot:
		return s.handleSnapshot(req.Payload)
	default:
		return NewErrorResponse(CodeBadRequest, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleGetStatus() *Response {
	return okResponse(StatusData{
		Status:        s.mgr.Status(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		DaemonRunning: true,
	})
}

func (s *Server) handleConnect() *Response {
	return okResponse(ConnectData{Connection: s.mgr.OpenConnection()})
}

func (s *Server) handleDisconnect(payload json.RawMessage) *Response {
	var req DisconnectPayload
	if resp := decodePayload(payload, &req, "disconnect"); resp != nil {
		return resp
	}
	policy, err := node.ParseOrphanPolicy(req.Policy)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.mgr.CloseConnection(req.Connection, policy); err != nil {
		return errorResponse(err)
	}
	return okResponse(nil)
}

func (s *Server) handleCreateNode(payload json.RawMessage) *Response {
	var req CreateNodePayload
	if resp := decodePayload(payload, &req, "create"); resp != nil {
		return resp
	}
	if !req.ID.IsZero() {
		if err := s.mgr.CreateNodeWithID(req.ID); err != nil {
			return errorResponse(err)
		}
		return okResponse(NodeData{ID: req.ID})
	}
	id, err := s.mgr.CreateNode(req.Connection)
	if err != nil {
		return errorResponse(err)
	}
	return okResponse(NodeData{ID: id})
}

func (s *Server) handleAddNode(payload json.RawMessage) *Response {
	var req ParentChildPayload
	if resp := decodePayload(payload, &req, "add"); resp != nil {
		return resp
	}
	return resultResponse(s.mgr.AddNode(req.Parent, req.Child))
}

func (s *Server) handleRemoveNode(payload json.RawMessage) *Response {
	var req ParentChildPayload
	if resp := decodePayload(payload, &req, "remove"); resp != nil {
		return resp
	}
	return resultResponse(s.mgr.RemoveNode(req.Parent, req.Child))
}

func (s *Server) handleReorderNode(payload json.RawMessage) *Response {
	var req ReorderNodePayload
	if resp := decodePayload(payload, &req, "reorder"); resp != nil {
		return resp
	}
	dir, err := node.ParseDirection(req.Direction)
	if err != nil {
		return NewErrorResponse(CodeBadRequest, err.Error())
	}
	return resultResponse(s.mgr.ReorderNode(req.Node, req.Relative, dir))
}

func (s *Server) handleSetVisible(payload json.RawMessage) *Response {
	var req SetVisiblePayload
	if resp := decodePayload(payload, &req, "visibility"); resp != nil {
		return resp
	}
	return resultResponse(s.mgr.SetVisible(req.Node, req.Visible))
}

func (s *Server) handleSetBounds(payload json.RawMessage) *Response {
	var req SetBoundsPayload
	if resp := decodePayload(payload, &req, "bounds"); resp != nil {
		return resp
	}
	return resultResponse(s.mgr.SetBounds(req.Node, req.Bounds))
}

func (s *Server) handleSetBitmap(payload json.RawMessage) *Response {
	var req SetBitmapPayload
	if resp := decodePayload(payload, &req, "bitmap"); resp != nil {
		return resp
	}
	var p bitmap.Payload
	if req.Bitmap != nil {
		p = *req.Bitmap
	}
	img, err := bitmap.Decode(p)
	if err != nil {
		return NewErrorResponse(CodeBadRequest, fmt.Sprintf("Invalid bitmap: %v", err))
	}
	return resultResponse(s.mgr.SetBitmap(req.Node, img))
}

func (s *Server) handleDestroyNode(payload json.RawMessage) *Response {
	var req DestroyNodePayload
	if resp := decodePayload(payload, &req, "destroy"); resp != nil {
		return resp
	}
	policy, err := node.ParseOrphanPolicy(req.Policy)
	if err != nil {
		return errorResponse(err)
	}
	return resultResponse(s.mgr.DestroyNode(req.Node, policy))
}

func (s *Server) handleGetNode(payload json.RawMessage) *Response {
	var req GetNodePayload
	if resp := decodePayload(payload, &req, "node"); resp != nil {
		return resp
	}
	info, err := s.mgr.Node(req.Node)
	if err != nil {
		return errorResponse(err)
	}
	return okResponse(info)
}

// handleGetEvents returns journaled events, long-polling when asked to.
func (s *Server) handleGetEvents(ctx context.Context, payload json.RawMessage) *Response {
	var req GetEventsPayload
	if len(payload) > 0 {
		if resp := decodePayload(payload, &req, "events"); resp != nil {
			return resp
		}
	}

	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > MaxEventWait {
		wait = MaxEventWait
	}

	var (
		updates <-chan manager.Event
		cancel  = func() {}
	)
	if wait > 0 {
		updates, cancel = s.mgr.Subscribe(0)
	}
	defer cancel()

	events := s.mgr.Events(req.Since)
	if len(events) == 0 && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-updates:
			events = s.mgr.Events(req.Since)
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return okResponse(EventsData{Events: events, Seq: s.mgr.Status().EventSeq})
}

func (s *Server) handleSnapshot(payload json.RawMessage) *Response {
	var req SnapshotPayload
	if len(payload) > 0 {
		if resp := decodePayload(payload, &req, "snapshot"); resp != nil {
			return resp
		}
	}
	path, err := s.resolveSnapshotPath(req.Path)
	if err != nil {
		return NewErrorResponse(CodeBadRequest, err.Error())
	}
	tree := s.mgr.Tree()
	if err := snapshot.WriteFile(path, tree); err != nil {
		return NewErrorResponse(CodeInternal, fmt.Sprintf("Failed to write snapshot: %v", err))
	}
	s.logger.Info("snapshot written", "path", path, "nodes", len(tree.Nodes))
	return okResponse(SnapshotData{Path: path, Nodes: len(tree.Nodes), Taken: tree.TakenAt})
}

// resolveSnapshotPath maps a client supplied name into the directory of the
// default snapshot. Names that escape that directory are refused.
func (s *Server) resolveSnapshotPath(name string) (string, error) {
	if name == "" {
		return s.snapshotPath, nil
	}
	dir := filepath.Dir(s.snapshotPath)
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("snapshot path %q is outside %s", name, dir)
	}
	return path, nil
}

// Stop gracefully shuts down the IPC server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Wait()
	os.Remove(s.socketPath)
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shuttingDown
}

func decodePayload(payload json.RawMessage, v any, what string) *Response {
	if len(payload) == 0 {
		return NewErrorResponse(CodeBadRequest, fmt.Sprintf("Missing %s payload", what))
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return NewErrorResponse(CodeBadRequest, fmt.Sprintf("Invalid %s payload: %v", what, err))
	}
	return nil
}

func okResponse(data any) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewErrorResponse(CodeInternal, err.Error())
	}
	return resp
}

func resultResponse(err error) *Response {
	if err != nil {
		return errorResponse(err)
	}
	return okResponse(nil)
}
