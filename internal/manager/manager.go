// Package manager is the single control point of the view service. Every
// request from a client connection passes through one Manager method, which
// resolves ids, runs the node operation and returns. Node notifications are
// journaled and fanned out to subscribers.
package manager

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/viewmgr/internal/bitmap"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// DefaultEventBuffer is the journal capacity used when Options leaves it
// unset.
const DefaultEventBuffer = 256

// Options configures a Manager.
type Options struct {
	EventBuffer int
	Logger      *slog.Logger
}

// Manager serializes all access to one node registry.
type Manager struct {
	mu       sync.Mutex
	backend  platform.Backend
	registry *node.Registry
	logger   *slog.Logger
	started  time.Time
	now      func() time.Time

	seq        uint64
	journal    []Event
	journalCap int

	subscribers map[int]chan Event
	nextSub     int
}

// Status summarizes the manager for GET_STATUS.
type Status struct {
	Backend     string              `json:"backend"`
	RootBounds  platform.Rect       `json:"root_bounds"`
	Nodes       int                 `json:"nodes"`
	Connections []node.ConnectionID `json:"connections"`
	EventSeq    uint64              `json:"event_seq"`
	Subscribers int                 `json:"subscribers"`
	StartedAt   time.Time           `json:"started_at"`
}

// New creates the root node and the orphan holder on backend.
func New(backend platform.Backend, opts Options) (*Manager, error) {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		backend:     backend,
		logger:      opts.Logger,
		now:         time.Now,
		journalCap:  opts.EventBuffer,
		journal:     make([]Event, 0, opts.EventBuffer),
		subscribers: make(map[int]chan Event),
	}
	m.started = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := node.NewRegistry(backend.RootSurface(), backend.RootBounds(), m)
	if err != nil {
		return nil, err
	}
	m.registry = reg

	m.logger.Info("view manager started",
		"backend", backend.Name(),
		"root_bounds", backend.RootBounds().String())
	return m, nil
}

// Backend returns the name of the native backend.
func (m *Manager) Backend() string { return m.backend.Name() }

// OpenConnection registers a new client connection.
func (m *Manager) OpenConnection() node.ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := m.registry.OpenConnection()
	m.logger.Info("connection opened", "connection", conn)
	return conn
}

// CloseConnection destroys every node conn created, applying policy to
// children owned by other connections.
func (m *Manager) CloseConnection(conn node.ConnectionID, policy node.OrphanPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.registry.CloseConnection(conn, policy); err != nil {
		return err
	}
	m.logger.Info("connection closed", "connection", conn, "policy", policy.String())
	return nil
}

// CreateNode creates a node owned by conn and returns its id.
func (m *Manager) CreateNode(conn node.ConnectionID) (node.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.registry.CreateNode(conn, m)
	if err != nil {
		return node.ID{}, err
	}
	m.logger.Debug("node created", "node", n.ID())
	return n.ID(), nil
}

// CreateNodeWithID creates a node under a caller-chosen id.
func (m *Manager) CreateNodeWithID(id node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id.Connection == node.ServiceConnection {
		return fmt.Errorf("%w: connection 0 belongs to the service", node.ErrProtectedNode)
	}
	if _, err := m.registry.CreateNodeWithID(id, m); err != nil {
		return err
	}
	m.logger.Debug("node created", "node", id)
	return nil
}

// AddNode makes child the topmost child of parent.
func (m *Manager) AddNode(parentID, childID node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, child, err := m.lookupPair(parentID, childID)
	if err != nil {
		return err
	}
	if parentID == node.HolderID {
		return fmt.Errorf("%w: %s only receives orphans", node.ErrProtectedNode, parentID)
	}
	return parent.Add(child)
}

// RemoveNode detaches child from parent.
func (m *Manager) RemoveNode(parentID, childID node.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, child, err := m.lookupPair(parentID, childID)
	if err != nil {
		return err
	}
	return parent.Remove(child)
}

// ReorderNode moves id above or below relative within their shared parent.
func (m *Manager) ReorderNode(id, relativeID node.ID, dir node.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, relative, err := m.lookupPair(id, relativeID)
	if err != nil {
		return err
	}
	parent := n.Parent()
	if parent == nil {
		return fmt.Errorf("%w: %s has no parent", node.ErrNotSibling, id)
	}
	return parent.Reorder(n, relative, dir)
}

func (m *Manager) SetVisible(id node.ID, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}
	return n.SetVisible(visible)
}

func (m *Manager) SetBounds(id node.ID, bounds platform.Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}
	return n.SetBounds(bounds)
}

// SetBitmap replaces the contents of id. A nil image clears them.
func (m *Manager) SetBitmap(id node.ID, img *image.RGBA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}
	return n.SetBitmap(img)
}

// DestroyNode destroys id, handling its children per policy.
func (m *Manager) DestroyNode(id node.ID, policy node.OrphanPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.registry.Destroy(id, policy); err != nil {
		return err
	}
	m.logger.Debug("node destroyed", "node", id, "policy", policy.String())
	return nil
}

// Node describes one live node.
func (m *Manager) Node(id node.ID) (snapshot.NodeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.registry.Lookup(id)
	if err != nil {
		return snapshot.NodeInfo{}, err
	}
	return describeNode(n), nil
}

// Tree captures every live node.
func (m *Manager) Tree() *snapshot.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := snapshot.New(m.backend.Name(), m.now())
	for _, n := range m.registry.Nodes() {
		t.Nodes = append(t.Nodes, describeNode(n))
	}
	return t
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Backend:     m.backend.Name(),
		RootBounds:  m.registry.Root().Bounds(),
		Nodes:       m.registry.Len(),
		Connections: m.registry.Connections(),
		EventSeq:    m.seq,
		Subscribers: len(m.subscribers),
		StartedAt:   m.started,
	}
}

// Events returns journaled events with a sequence number above since.
// Events that fell out of the journal are gone.
func (m *Manager) Events(since uint64) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Event{}
	for _, ev := range m.journal {
		if ev.Seq > since {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe returns a channel receiving every event recorded from now on
// and a function that cancels the subscription. Events are dropped for a
// subscriber whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = m.journalCap
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(ch)
			}
		})
	}
}

// Close closes the backend. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
	return m.backend.Close()
}

func (m *Manager) lookupPair(a, b node.ID) (*node.Node, *node.Node, error) {
	na, err := m.registry.Lookup(a)
	if err != nil {
		return nil, nil, err
	}
	nb, err := m.registry.Lookup(b)
	if err != nil {
		return nil, nil, err
	}
	return na, nb, nil
}

func describeNode(n *node.Node) snapshot.NodeInfo {
	info := snapshot.NodeInfo{
		ID:       n.ID(),
		Parent:   n.ParentID(),
		Children: n.ChildIDs(),
		Visible:  n.IsVisible(),
		Drawn:    n.IsDrawn(),
		Bounds:   n.Bounds(),
	}
	if img := n.Bitmap(); img != nil {
		info.BitmapDigest = bitmap.Sum(img).String()
		info.BitmapWidth = img.Rect.Dx()
		info.BitmapHeight = img.Rect.Dy()
	}
	return info
}
