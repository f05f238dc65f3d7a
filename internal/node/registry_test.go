package node

import (
	"errors"
	"math"
	"slices"
	"testing"
)

func TestRegistryCreatesRootAndHolder(t *testing.T) {
	f := newFixture(t)

	root := f.reg.Root()
	if root.ID() != RootID || !root.IsVisible() {
		t.Fatalf("root = %s visible=%v", root.ID(), root.IsVisible())
	}
	if root.Bounds() != f.backend.RootBounds() {
		t.Fatalf("root bounds = %s, want %s", root.Bounds(), f.backend.RootBounds())
	}
	if f.reg.Holder().ID() != HolderID || f.reg.Holder().IsVisible() {
		t.Fatalf("holder must exist and be hidden")
	}
	if f.reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.reg.Len())
	}
}

func TestCreateNodeAllocatesSequentialIDs(t *testing.T) {
	f := newFixture(t)
	other := f.reg.OpenConnection()

	a, b := f.node(t), f.node(t)
	c, err := f.reg.CreateNode(other, nil)
	if err != nil {
		t.Fatal(err)
	}

	if a.ID() != (ID{Connection: f.conn, Local: 1}) || b.ID() != (ID{Connection: f.conn, Local: 2}) {
		t.Fatalf("ids = %s, %s", a.ID(), b.ID())
	}
	if c.ID() != (ID{Connection: other, Local: 1}) {
		t.Fatalf("id = %s", c.ID())
	}
	if got, err := f.reg.Lookup(b.ID()); err != nil || got != b {
		t.Fatalf("Lookup = %v, %v", got, err)
	}
}

func TestCreateNodeWithIDRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	id := ID{Connection: f.conn, Local: 5}

	if _, err := f.reg.CreateNodeWithID(id, nil); err != nil {
		t.Fatalf("CreateNodeWithID: %v", err)
	}
	if _, err := f.reg.CreateNodeWithID(id, nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID for live id, got %v", err)
	}
	if err := f.reg.Destroy(id, OrphanPromote); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.CreateNodeWithID(id, nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID for retired id, got %v", err)
	}
	if _, err := f.reg.CreateNodeWithID(ID{Connection: f.conn, Local: 0}, nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID for local 0, got %v", err)
	}
	if _, err := f.reg.CreateNodeWithID(ID{Connection: 99, Local: 1}, nil); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	n := f.node(t)
	if n.ID().Local != 6 {
		t.Fatalf("next allocated id = %s, want local 6", n.ID())
	}
}

func TestLocalIDLimitDoesNotReopenRetiredIDs(t *testing.T) {
	f := newFixture(t)
	first := f.node(t)
	if err := f.reg.Destroy(first.ID(), OrphanPromote); err != nil {
		t.Fatal(err)
	}

	last := ID{Connection: f.conn, Local: math.MaxUint32}
	if _, err := f.reg.CreateNodeWithID(last, nil); err != nil {
		t.Fatalf("CreateNodeWithID(%s): %v", last, err)
	}
	if _, err := f.reg.CreateNodeWithID(first.ID(), nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("retired id %s was created again: %v", first.ID(), err)
	}
	if _, err := f.reg.CreateNodeWithID(last, nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID for live %s, got %v", last, err)
	}
	if _, err := f.reg.CreateNode(f.conn, nil); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID once every local id is used, got %v", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.Lookup(ID{Connection: f.conn, Local: 77}); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("expected ErrUnknownNode, got %v", err)
	}
}

func TestDestroyRequiresPolicy(t *testing.T) {
	f := newFixture(t)
	n := f.node(t)
	if err := f.reg.Destroy(n.ID(), 0); !errors.Is(err, ErrPolicyRequired) {
		t.Fatalf("expected ErrPolicyRequired, got %v", err)
	}
	if n.Destroyed() {
		t.Fatalf("node destroyed without a policy")
	}
	if _, err := ParseOrphanPolicy(""); !errors.Is(err, ErrPolicyRequired) {
		t.Fatalf("ParseOrphanPolicy(\"\") = %v", err)
	}
}

func TestDestroyProtectedNodes(t *testing.T) {
	f := newFixture(t)
	for _, id := range []ID{RootID, HolderID} {
		if err := f.reg.Destroy(id, OrphanCascade); !errors.Is(err, ErrProtectedNode) {
			t.Errorf("Destroy(%s): expected ErrProtectedNode, got %v", id, err)
		}
	}
	n := f.node(t)
	if err := n.Add(f.reg.Root()); !errors.Is(err, ErrProtectedNode) {
		t.Fatalf("moving root: expected ErrProtectedNode, got %v", err)
	}
}

// buildTree returns p with children a and b; a has child c.
func buildTree(t *testing.T, f *fixture) (p, a, b, c *Node) {
	t.Helper()
	p, a, b, c = f.node(t), f.node(t), f.node(t), f.node(t)
	for _, step := range [][2]*Node{{p, a}, {p, b}, {a, c}} {
		if err := step[0].Add(step[1]); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := f.reg.Root().Add(p); err != nil {
		t.Fatalf("Add to root: %v", err)
	}
	return p, a, b, c
}

func TestDestroyPromote(t *testing.T) {
	f := newFixture(t)
	p, a, b, c := buildTree(t, f)

	if err := f.reg.Destroy(p.ID(), OrphanPromote); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !p.Destroyed() || !surf(p).Destroyed() {
		t.Fatalf("node or surface not destroyed")
	}
	for _, n := range []*Node{a, b} {
		if n.Destroyed() || n.Parent() != nil {
			t.Fatalf("%s should be a live parentless node", n.ID())
		}
		if surf(n).Parent() != f.backend.Root() {
			t.Fatalf("%s surface not returned to native root", n.ID())
		}
	}
	if c.Parent() != a {
		t.Fatalf("grandchild must keep its parent")
	}
	if len(f.reg.Root().Children()) != 0 {
		t.Fatalf("root still lists destroyed node")
	}
	if _, err := f.reg.Lookup(p.ID()); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("destroyed node still registered")
	}
}

func TestDestroyCascade(t *testing.T) {
	f := newFixture(t)
	p, a, b, c := buildTree(t, f)
	live := f.backend.Live()

	if err := f.reg.Destroy(p.ID(), OrphanCascade); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	for _, n := range []*Node{p, a, b, c} {
		if !n.Destroyed() || !surf(n).Destroyed() {
			t.Fatalf("%s not destroyed", n.ID())
		}
	}
	if got := f.backend.Live(); got != live-4 {
		t.Fatalf("live surfaces = %d, want %d", got, live-4)
	}
	if f.reg.Len() != 2 {
		t.Fatalf("Len() = %d, want only root and holder", f.reg.Len())
	}
	if err := a.Add(b); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("mutating a destroyed node: expected ErrUnknownNode, got %v", err)
	}
}

func TestDestroyHold(t *testing.T) {
	f := newFixture(t)
	p, a, b, _ := buildTree(t, f)

	if err := f.reg.Destroy(p.ID(), OrphanHold); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	holder := f.reg.Holder()
	if got := holder.ChildIDs(); !slices.Equal(got, []ID{a.ID(), b.ID()}) {
		t.Fatalf("holder children = %v", got)
	}
	if a.IsDrawn() {
		t.Fatalf("held nodes are not drawn")
	}
	assertNativeMirrors(t, holder)

	// Held nodes can be adopted again.
	if err := f.reg.Root().Add(a); err != nil {
		t.Fatalf("re-adopt: %v", err)
	}
}

func TestDestroySurfaceFailureKeepsNode(t *testing.T) {
	tests := []struct {
		name   string
		policy OrphanPolicy
	}{
		{"promote", OrphanPromote},
		{"cascade", OrphanCascade},
		{"hold", OrphanHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p, a, b, c := buildTree(t, f)
			f.backend.FailNext("destroy", errors.New("boom"))

			err := f.reg.Destroy(p.ID(), tt.policy)
			if !errors.Is(err, ErrSurface) {
				t.Fatalf("Destroy = %v, want ErrSurface", err)
			}
			// The node whose surface failed is still live where it was.
			failed := p
			if tt.policy == OrphanCascade {
				failed = c
				if c.Parent() != a || a.Parent() != p {
					t.Fatalf("cascade moved nodes before failing")
				}
			}
			if failed.Destroyed() || surf(failed).Destroyed() {
				t.Fatalf("%s destroyed despite the surface failure", failed.ID())
			}
			if _, err := f.reg.Lookup(failed.ID()); err != nil {
				t.Fatalf("%s no longer registered: %v", failed.ID(), err)
			}
			if p.Parent() != f.reg.Root() {
				t.Fatalf("%s left its parent", p.ID())
			}
			assertNativeMirrors(t, f.reg.Root())

			// Retrying finishes the job.
			if err := f.reg.Destroy(p.ID(), tt.policy); err != nil {
				t.Fatalf("retry: %v", err)
			}
			if !p.Destroyed() || len(f.reg.Root().Children()) != 0 {
				t.Fatalf("retry left %s behind", p.ID())
			}
			if tt.policy == OrphanCascade {
				for _, n := range []*Node{a, b, c} {
					if !n.Destroyed() {
						t.Fatalf("%s survived the cascade", n.ID())
					}
				}
				if f.reg.Len() != 2 {
					t.Fatalf("Len() = %d after cascade", f.reg.Len())
				}
			}
		})
	}
}

func TestDestroyDetachedNodeDestroysSurface(t *testing.T) {
	f := newFixture(t)
	p, a, _, _ := buildTree(t, f)
	if err := p.Remove(a); err != nil {
		t.Fatal(err)
	}
	if err := f.reg.Destroy(p.ID(), OrphanPromote); err != nil {
		t.Fatal(err)
	}
	if err := f.reg.Destroy(a.ID(), OrphanCascade); err != nil {
		t.Fatal(err)
	}
	if !surf(a).Destroyed() {
		t.Fatalf("destroying a detached node left its surface alive")
	}
}

func TestCloseConnection(t *testing.T) {
	tests := []struct {
		name   string
		policy OrphanPolicy
		// foreign child survives and where it ends up
		foreignAlive  bool
		foreignParent func(f *fixture) ID
	}{
		{"promote", OrphanPromote, true, func(*fixture) ID { return ID{} }},
		{"hold", OrphanHold, true, func(*fixture) ID { return HolderID }},
		{"cascade", OrphanCascade, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			other := f.reg.OpenConnection()

			top, mid := f.node(t), f.node(t)
			foreign, err := f.reg.CreateNode(other, f.rec)
			if err != nil {
				t.Fatal(err)
			}
			for _, step := range [][2]*Node{{f.reg.Root(), top}, {top, mid}, {mid, foreign}} {
				if err := step[0].Add(step[1]); err != nil {
					t.Fatal(err)
				}
			}

			if err := f.reg.CloseConnection(f.conn, tt.policy); err != nil {
				t.Fatalf("CloseConnection: %v", err)
			}
			if !top.Destroyed() || !mid.Destroyed() {
				t.Fatalf("owned nodes survived teardown")
			}
			if foreign.Destroyed() == tt.foreignAlive {
				t.Fatalf("foreign destroyed = %v, want alive = %v", foreign.Destroyed(), tt.foreignAlive)
			}
			if tt.foreignAlive && foreign.ParentID() != tt.foreignParent(f) {
				t.Fatalf("foreign parent = %s", foreign.ParentID())
			}
			if f.reg.IsOpen(f.conn) {
				t.Fatalf("connection still open")
			}
			if _, err := f.reg.CreateNode(f.conn, nil); !errors.Is(err, ErrUnknownConnection) {
				t.Fatalf("expected ErrUnknownConnection after close, got %v", err)
			}
			if len(f.reg.Root().Children()) != 0 {
				t.Fatalf("root children = %v", f.reg.Root().ChildIDs())
			}
		})
	}
}

func TestCloseConnectionErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.CloseConnection(ServiceConnection, OrphanCascade); !errors.Is(err, ErrProtectedNode) {
		t.Fatalf("closing service connection: %v", err)
	}
	if err := f.reg.CloseConnection(f.conn, 0); !errors.Is(err, ErrPolicyRequired) {
		t.Fatalf("expected ErrPolicyRequired, got %v", err)
	}
	if err := f.reg.CloseConnection(42, OrphanCascade); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
	if got := f.reg.Connections(); !slices.Equal(got, []ConnectionID{f.conn}) {
		t.Fatalf("Connections() = %v", got)
	}
}
