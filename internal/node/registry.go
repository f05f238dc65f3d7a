package node

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/1broseidon/viewmgr/internal/platform"
)

// OrphanPolicy decides what happens to the children of a destroyed node.
// The zero value is invalid; every destroy names a policy.
type OrphanPolicy int

const (
	// OrphanPromote detaches the children, leaving them parentless.
	OrphanPromote OrphanPolicy = iota + 1
	// OrphanCascade destroys the whole subtree, children before parents.
	OrphanCascade
	// OrphanHold moves the children under the hidden holder node.
	OrphanHold
)

func (p OrphanPolicy) String() string {
	switch p {
	case OrphanPromote:
		return "promote"
	case OrphanCascade:
		return "cascade"
	case OrphanHold:
		return "hold"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func (p OrphanPolicy) valid() bool {
	return p >= OrphanPromote && p <= OrphanHold
}

// ParseOrphanPolicy accepts "promote", "cascade" or "hold".
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch s {
	case "promote":
		return OrphanPromote, nil
	case "cascade":
		return OrphanCascade, nil
	case "hold":
		return OrphanHold, nil
	case "":
		return 0, ErrPolicyRequired
	default:
		return 0, fmt.Errorf("%w: unknown policy %q (want promote, cascade or hold)", ErrPolicyRequired, s)
	}
}

// Registry owns every node and allocates ids. It is not safe for
// concurrent use: one owner serializes all calls.
type Registry struct {
	nodes       map[ID]*Node
	nextLocal   map[ConnectionID]uint64
	nextConn    ConnectionID
	rootSurface platform.Surface
	root        *Node
	holder      *Node
}

// NewRegistry creates the service root node and the orphan holder beneath
// rootSurface. delegate observes both.
func NewRegistry(rootSurface platform.Surface, rootBounds platform.Rect, delegate Delegate) (*Registry, error) {
	r := &Registry{
		nodes:       make(map[ID]*Node),
		nextLocal:   map[ConnectionID]uint64{ServiceConnection: 1},
		rootSurface: rootSurface,
	}

	root, err := r.CreateNodeWithID(RootID, delegate)
	if err != nil {
		return nil, fmt.Errorf("failed to create root node: %w", err)
	}
	if err := root.SetBounds(rootBounds); err != nil {
		return nil, fmt.Errorf("failed to size root node: %w", err)
	}
	if err := root.SetVisible(true); err != nil {
		return nil, fmt.Errorf("failed to show root node: %w", err)
	}
	r.root = root

	holder, err := r.CreateNodeWithID(HolderID, delegate)
	if err != nil {
		return nil, fmt.Errorf("failed to create orphan holder: %w", err)
	}
	r.holder = holder
	return r, nil
}

// Root returns the service root node.
func (r *Registry) Root() *Node { return r.root }

// Holder returns the node that keeps children orphaned under OrphanHold.
func (r *Registry) Holder() *Node { return r.holder }

// OpenConnection allocates a new connection id. Connection ids are never
// reused, so neither are node ids.
func (r *Registry) OpenConnection() ConnectionID {
	r.nextConn++
	r.nextLocal[r.nextConn] = 1
	return r.nextConn
}

// IsOpen reports whether conn may create nodes.
func (r *Registry) IsOpen(conn ConnectionID) bool {
	_, ok := r.nextLocal[conn]
	return ok
}

// Connections returns the open client connections in ascending order.
func (r *Registry) Connections() []ConnectionID {
	out := make([]ConnectionID, 0, len(r.nextLocal))
	for conn := range r.nextLocal {
		if conn != ServiceConnection {
			out = append(out, conn)
		}
	}
	slices.Sort(out)
	return out
}

// CreateNode creates a parentless, hidden node with the next free local id
// of conn.
func (r *Registry) CreateNode(conn ConnectionID, delegate Delegate) (*Node, error) {
	next, ok := r.nextLocal[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}
	if next > math.MaxUint32 {
		return nil, fmt.Errorf("%w: connection %d has used every local id", ErrDuplicateID, conn)
	}
	return r.CreateNodeWithID(ID{Connection: conn, Local: LocalID(next)}, delegate)
}

// CreateNodeWithID creates a node with a caller-chosen id. Local ids below
// the connection's high-water mark count as used even after destruction.
func (r *Registry) CreateNodeWithID(id ID, delegate Delegate) (*Node, error) {
	next, ok := r.nextLocal[id.Connection]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnection, id.Connection)
	}
	if id.Local == 0 {
		return nil, fmt.Errorf("%w: local id 0 is reserved", ErrDuplicateID)
	}
	if _, live := r.nodes[id]; live {
		return nil, fmt.Errorf("%w: %s is live", ErrDuplicateID, id)
	}
	if uint64(id.Local) < next {
		return nil, fmt.Errorf("%w: %s was already used", ErrDuplicateID, id)
	}
	if delegate == nil {
		delegate = NopDelegate{}
	}

	surface, err := r.rootSurface.CreateChildSurface()
	if err != nil {
		return nil, fmt.Errorf("%w: create surface for %s: %w", ErrSurface, id, err)
	}

	n := &Node{
		id:       id,
		registry: r,
		delegate: delegate,
		surface:  surface,
	}
	r.nodes[id] = n
	r.nextLocal[id.Connection] = uint64(id.Local) + 1
	return n, nil
}

// Lookup returns the live node with id.
func (r *Registry) Lookup(id ID) (*Node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// Len returns the number of live nodes, including the root and holder.
func (r *Registry) Len() int { return len(r.nodes) }

// Nodes returns all live nodes ordered by id.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *Node) int { return compareIDs(a.id, b.id) })
	return out
}

// Destroy destroys the node with id, handling its children per policy.
func (r *Registry) Destroy(id ID, policy OrphanPolicy) error {
	if !policy.valid() {
		return fmt.Errorf("%w: destroy %s", ErrPolicyRequired, id)
	}
	n, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if r.isProtected(id) {
		return fmt.Errorf("%w: %s cannot be destroyed", ErrProtectedNode, id)
	}
	return r.destroy(n, policy)
}

// CloseConnection destroys every node conn owns, deepest first, and retires
// the connection id.
func (r *Registry) CloseConnection(conn ConnectionID, policy OrphanPolicy) error {
	if conn == ServiceConnection {
		return fmt.Errorf("%w: the service connection cannot be closed", ErrProtectedNode)
	}
	if !policy.valid() {
		return fmt.Errorf("%w: close connection %d", ErrPolicyRequired, conn)
	}
	if !r.IsOpen(conn) {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, conn)
	}

	var owned []*Node
	for id, n := range r.nodes {
		if id.Connection == conn {
			owned = append(owned, n)
		}
	}
	depth := make(map[ID]int, len(owned))
	for _, n := range owned {
		depth[n.id] = n.Depth()
	}
	slices.SortFunc(owned, func(a, b *Node) int {
		if c := cmp.Compare(depth[b.id], depth[a.id]); c != 0 {
			return c
		}
		return compareIDs(a.id, b.id)
	})

	for _, n := range owned {
		if n.destroyed {
			continue
		}
		if err := r.destroy(n, policy); err != nil {
			return fmt.Errorf("close connection %d: %w", conn, err)
		}
	}
	delete(r.nextLocal, conn)
	return nil
}

// destroy handles n's children, destroys n's surface, then detaches n from
// its parent. No node is removed while a registered child still points at
// it. When a surface call fails, n stays registered under its parent and a
// later destroy resumes with the children not yet handled.
func (r *Registry) destroy(n *Node, policy OrphanPolicy) error {
	switch policy {
	case OrphanCascade:
		for _, child := range n.Children() {
			if err := r.destroy(child, OrphanCascade); err != nil {
				return err
			}
		}
	case OrphanPromote:
		for _, child := range n.Children() {
			if err := n.Remove(child); err != nil {
				return err
			}
		}
	case OrphanHold:
		for _, child := range n.Children() {
			if err := r.holder.Add(child); err != nil {
				return err
			}
		}
	}

	if err := n.surface.Destroy(); err != nil {
		return fmt.Errorf("%w: destroy surface of %s: %w", ErrSurface, n.id, err)
	}

	// The native side already dropped the surface from its parent.
	if parent := n.Parent(); parent != nil {
		parent.children = removeID(parent.children, n.id)
		n.parent = ID{}
		parent.delegate.OnHierarchyChanged(parent, HierarchyChange{Node: n.id, OldParent: parent.id})
	}
	delete(r.nodes, n.id)
	n.destroyed = true
	n.bitmap = nil
	return nil
}

func (r *Registry) isProtected(id ID) bool {
	return id == RootID || id == HolderID
}

func compareIDs(a, b ID) int {
	if c := cmp.Compare(a.Connection, b.Connection); c != 0 {
		return c
	}
	return cmp.Compare(a.Local, b.Local)
}
