package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus   CommandType = "GET_STATUS"
	CommandConnect     CommandType = "CONNECT"
	CommandDisconnect  CommandType = "DISCONNECT"
	CommandCreateNode  CommandType = "CREATE_NODE"
	CommandAddNode     CommandType = "ADD_NODE"
	CommandRemoveNode  CommandType = "REMOVE_NODE"
	CommandReorderNode CommandType = "REORDER_NODE"
	CommandSetVisible  CommandType = "SET_VISIBLE"
	CommandSetBounds   CommandType = "SET_BOUNDS"
	CommandSetBitmap   CommandType = "SET_BITMAP"
	CommandDestroyNode CommandType = "DESTROY_NODE"
	CommandGetNode     CommandType = "GET_NODE"
	CommandGetTree     CommandType = "GET_TREE"
	CommandGetEvents   CommandType = "GET_EVENTS"
	CommandSnapshot    CommandType = "SNAPSHOT"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client
type Response struct {
	Status string          `json:"status"` // "OK" or "ERROR"
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	manager.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
	DaemonRunning bool  `json:"daemon_running"`
}

type ConnectData struct {
	Connection node.ConnectionID `json:"connection"`
}

type DisconnectPayload struct {
	Connection node.ConnectionID `json:"connection"`
	Policy     string            `json:"policy"`
}

// CreateNodePayload creates a node on Connection, or under ID when set.
type CreateNodePayload struct {
	Connection node.ConnectionID `json:"connection,omitempty"`
	ID         node.ID           `json:"id,omitzero"`
}

type NodeData struct {
	ID node.ID `json:"id"`
}

// ParentChildPayload is used by ADD_NODE and REMOVE_NODE.
type ParentChildPayload struct {
	Parent node.ID `json:"parent"`
	Child  node.ID `json:"child"`
}

type ReorderNodePayload struct {
	Node      node.ID `json:"node"`
	Relative  node.ID `json:"relative"`
	Direction string  `json:"direction"`
}

type SetVisiblePayload struct {
	Node    node.ID `json:"node"`
	Visible bool    `json:"visible"`
}

type SetBoundsPayload struct {
	Node   node.ID       `json:"node"`
	Bounds platform.Rect `json:"bounds"`
}

// SetBitmapPayload replaces node contents. A missing bitmap clears them.
type SetBitmapPayload struct {
	Node   node.ID         `json:"node"`
	Bitmap *bitmap.Payload `json:"bitmap,omitempty"`
}

type DestroyNodePayload struct {
	Node   node.ID `json:"node"`
	Policy string  `json:"policy"`
}

type GetNodePayload struct {
	Node node.ID `json:"node"`
}

// GetEventsPayload asks for events after Since. With WaitMillis set the
// server holds the request until an event arrives or the wait ends.
type GetEventsPayload struct {
	Since      uint64 `json:"since"`
	WaitMillis int    `json:"wait_millis,omitempty"`
}

type EventsData struct {
	Events []manager.Event `json:"events"`
	Seq    uint64          `json:"seq"`
}

// SnapshotPayload writes the tree to Path, a file name inside the directory
// of the daemon's snapshot path, or to the snapshot path itself when empty.
type SnapshotPayload struct {
	Path string `json:"path,omitempty"`
}

type SnapshotData struct {
	Path  string    `json:"path"`
	Nodes int       `json:"nodes"`
	Taken time.Time `json:"taken"`
}

// MaxEventWait caps GET_EVENTS long polls.
const MaxEventWait = 30 * time.Second

// Error codes carried in Response.Code.
const (
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
	CodeUnknownNode       = "unknown_node"
	CodeUnknownConnection = "unknown_connection"
	CodeDuplicateID       = "duplicate_id"
	CodeCycle             = "cycle"
	CodeNotChild          = "not_child"
	CodeNotSibling        = "not_sibling"
	CodePolicyRequired    = "policy_required"
	CodeProtectedNode     = "protected_node"
	CodeSurface           = "surface"
)

var codeErrors = []struct {
	code string
	err  error
}{
	{CodeUnknownNode, node.ErrUnknownNode},
	{CodeUnknownConnection, node.ErrUnknownConnection},
	{CodeDuplicateID, node.ErrDuplicateID},
	{CodeCycle, node.ErrCycle},
	{CodeNotChild, node.ErrNotChild},
	{CodeNotSibling, node.ErrNotSibling},
	{CodePolicyRequired, node.ErrPolicyRequired},
	{CodeProtectedNode, node.ErrProtectedNode},
	{CodeSurface, node.ErrSurface},
}

// ErrorCode maps err to the code sent to clients.
func ErrorCode(err error) string {
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return CodeInternal
}

// RemoteError is an ERROR response seen by the client. It unwraps to the
// node error its code names, so errors.Is works across the socket.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error: %s", e.Message)
}

func (e *RemoteError) Unwrap() error {
	for _, ce := range codeErrors {
		if ce.code == e.Code {
			return ce.err
		}
	}
	return nil
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: "OK",
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message and code
func NewErrorResponse(code, errMsg string) *Response {
	return &Response{
		Status: "ERROR",
		Error:  errMsg,
		Code:   code,
	}
}

// errorResponse builds the response for an operation error.
func errorResponse(err error) *Response {
	return NewErrorResponse(ErrorCode(err), err.Error())
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
