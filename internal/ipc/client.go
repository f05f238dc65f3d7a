package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"net"
	"time"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/runtimepath"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient() *Client {
	socketPath, err := runtimepath.SocketPath()
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		socketPath = ""
	}
	return NewClientAt(socketPath)
}

// NewClientAt creates a client for the socket at path.
func NewClientAt(path string) *Client {
	return &Client{
		socketPath: path,
		timeout:    5 * time.Second,
	}
}

// sendRequest sends a request and waits for a response. extra extends the
// deadline for requests the server may hold.
func (c *Client) sendRequest(req *Request, extra time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout + extra))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Status == "ERROR" {
		return nil, &RemoteError{Code: resp.Code, Message: resp.Error}
	}

	return &resp, nil
}

// call sends command with payload and decodes the response data into out
// when out is non-nil.
func (c *Client) call(command CommandType, payload, out any) error {
	return c.callWait(command, payload, out, 0)
}

func (c *Client) callWait(command CommandType, payload, out any, extra time.Duration) error {
	req := &Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		req.Payload = data
	}

	resp, err := c.sendRequest(req, extra)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", command, err)
	}
	return nil
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.call(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Connect opens a connection and returns its id.
func (c *Client) Connect() (node.ConnectionID, error) {
	var data ConnectData
	if err := c.call(CommandConnect, nil, &data); err != nil {
		return 0, err
	}
	return data.Connection, nil
}

// Disconnect closes conn, destroying its nodes.
func (c *Client) Disconnect(conn node.ConnectionID, policy node.OrphanPolicy) error {
	return c.call(CommandDisconnect, DisconnectPayload{Connection: conn, Policy: policyName(policy)}, nil)
}

// CreateNode creates a node owned by conn.
func (c *Client) CreateNode(conn node.ConnectionID) (node.ID, error) {
	var data NodeData
	if err := c.call(CommandCreateNode, CreateNodePayload{Connection: conn}, &data); err != nil {
		return node.ID{}, err
	}
	return data.ID, nil
}

// CreateNodeWithID creates a node under a chosen id.
func (c *Client) CreateNodeWithID(id node.ID) error {
	return c.call(CommandCreateNode, CreateNodePayload{ID: id}, nil)
}

func (c *Client) AddNode(parent, child node.ID) error {
	return c.call(CommandAddNode, ParentChildPayload{Parent: parent, Child: child}, nil)
}

func (c *Client) RemoveNode(parent, child node.ID) error {
	return c.call(CommandRemoveNode, ParentChildPayload{Parent: parent, Child: child}, nil)
}

func (c *Client) ReorderNode(id, relative node.ID, dir node.Direction) error {
	return c.call(CommandReorderNode, ReorderNodePayload{Node: id, Relative: relative, Direction: dir.String()}, nil)
}

func (c *Client) SetVisible(id node.ID, visible bool) error {
	return c.call(CommandSetVisible, SetVisiblePayload{Node: id, Visible: visible}, nil)
}

func (c *Client) SetBounds(id node.ID, bounds platform.Rect) error {
	return c.call(CommandSetBounds, SetBoundsPayload{Node: id, Bounds: bounds}, nil)
}

// SetBitmap uploads img using enc. A nil image clears the node.
func (c *Client) SetBitmap(id node.ID, img *image.RGBA, enc bitmap.Encoding) error {
	req := SetBitmapPayload{Node: id}
	if img != nil {
		p, err := bitmap.Encode(img, enc)
		if err != nil {
			return fmt.Errorf("failed to encode bitmap: %w", err)
		}
		req.Bitmap = &p
	}
	return c.call(CommandSetBitmap, req, nil)
}

func (c *Client) DestroyNode(id node.ID, policy node.OrphanPolicy) error {
	return c.call(CommandDestroyNode, DestroyNodePayload{Node: id, Policy: policyName(policy)}, nil)
}

// GetNode describes one node.
func (c *Client) GetNode(id node.ID) (*snapshot.NodeInfo, error) {
	var info snapshot.NodeInfo
	if err := c.call(CommandGetNode, GetNodePayload{Node: id}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTree retrieves every live node.
func (c *Client) GetTree() (*snapshot.Tree, error) {
	var tree snapshot.Tree
	if err := c.call(CommandGetTree, nil, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// GetEvents returns events after since, waiting up to wait for one to
// arrive when none are pending.
func (c *Client) GetEvents(since uint64, wait time.Duration) ([]manager.Event, uint64, error) {
	if wait > MaxEventWait {
		wait = MaxEventWait
	}
	var data EventsData
	payload := GetEventsPayload{Since: since, WaitMillis: int(wait / time.Millisecond)}
	if err := c.callWait(CommandGetEvents, payload, &data, wait); err != nil {
		return nil, 0, err
	}
	return data.Events, data.Seq, nil
}

// Snapshot asks the daemon to write the tree to path, resolved inside the
// daemon's snapshot directory, or to its default location when path is empty.
func (c *Client) Snapshot(path string) (*SnapshotData, error) {
	var data SnapshotData
	if err := c.call(CommandSnapshot, SnapshotPayload{Path: path}, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}

// policyName leaves an unset policy empty so the daemon rejects it.
func policyName(p node.OrphanPolicy) string {
	if p == 0 {
		return ""
	}
	return p.String()
}
