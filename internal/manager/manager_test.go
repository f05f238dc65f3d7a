package manager

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

func newTestManager(t *testing.T, buffer int) *Manager {
	t.Helper()
	backend := platform.NewMemoryBackend(platform.Rect{Width: 800, Height: 600})
	m, err := New(backend, Options{
		EventBuffer: buffer,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func mustCreate(t *testing.T, m *Manager, conn node.ConnectionID) node.ID {
	t.Helper()
	id, err := m.CreateNode(conn)
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	return id
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestAddNodeWithUnknownIDLeavesTreeUnchanged(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)
	before := m.Tree().Nodes
	seq := m.Status().EventSeq

	ghost := node.ID{Connection: conn, Local: 99}
	if err := m.AddNode(node.RootID, ghost); !errors.Is(err, node.ErrUnknownNode) {
		t.Fatalf("AddNode(root, ghost) = %v, want ErrUnknownNode", err)
	}
	if err := m.AddNode(ghost, a); !errors.Is(err, node.ErrUnknownNode) {
		t.Fatalf("AddNode(ghost, a) = %v, want ErrUnknownNode", err)
	}

	if after := m.Tree().Nodes; !slices.EqualFunc(before, after, func(x, y snapshot.NodeInfo) bool {
		return x.ID == y.ID && x.Parent == y.Parent && slices.Equal(x.Children, y.Children)
	}) {
		t.Fatalf("tree changed: %v -> %v", before, after)
	}
	if got := m.Status().EventSeq; got != seq {
		t.Fatalf("event seq moved from %d to %d", seq, got)
	}
}

func TestRequestsOnDestroyedNode(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)
	b := mustCreate(t, m, conn)
	if err := m.DestroyNode(a, node.OrphanPromote); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"add", func() error { return m.AddNode(b, a) }},
		{"remove", func() error { return m.RemoveNode(b, a) }},
		{"reorder", func() error { return m.ReorderNode(a, b, node.Above) }},
		{"visible", func() error { return m.SetVisible(a, true) }},
		{"bounds", func() error { return m.SetBounds(a, platform.Rect{Width: 1, Height: 1}) }},
		{"bitmap", func() error { return m.SetBitmap(a, nil) }},
		{"destroy", func() error { return m.DestroyNode(a, node.OrphanCascade) }},
		{"info", func() error { _, err := m.Node(a); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, node.ErrUnknownNode) {
				t.Fatalf("got %v, want ErrUnknownNode", err)
			}
		})
	}
}

func TestEventsAreJournaledInOrder(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)
	b := mustCreate(t, m, conn)
	since := m.Status().EventSeq

	steps := []func() error{
		func() error { return m.AddNode(node.RootID, a) },
		func() error { return m.AddNode(node.RootID, b) },
		func() error { return m.ReorderNode(a, b, node.Above) },
		func() error { return m.SetVisible(a, true) },
		func() error { return m.SetBounds(a, platform.Rect{X: 5, Y: 5, Width: 10, Height: 10}) },
		func() error { return m.SetBitmap(a, image.NewRGBA(image.Rect(0, 0, 2, 2))) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	events := m.Events(since)
	want := []EventKind{EventHierarchy, EventHierarchy, EventStacking, EventVisibility, EventBounds, EventBitmap}
	if got := kinds(events); !slices.Equal(got, want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Fatalf("sequence gap at %d: %d after %d", i, events[i].Seq, events[i-1].Seq)
		}
	}

	first := events[0]
	if first.Node != node.RootID || first.Child != a || first.NewParent != node.RootID || !first.OldParent.IsZero() {
		t.Fatalf("hierarchy event = %+v", first)
	}
	stack := events[2]
	if stack.Node != node.RootID || stack.Child != a || stack.Relative != b || stack.Direction != "above" {
		t.Fatalf("stacking event = %+v", stack)
	}
	if vis := events[3]; vis.Visible == nil || !*vis.Visible {
		t.Fatalf("visibility event = %+v", vis)
	}
	if bmp := events[5]; bmp.Bitmap == "" {
		t.Fatalf("bitmap event lacks digest")
	}

	// A no-op change records nothing.
	seq := m.Status().EventSeq
	if err := m.SetVisible(a, true); err != nil {
		t.Fatal(err)
	}
	if got := m.Events(seq); len(got) != 0 {
		t.Fatalf("no-op produced events: %v", got)
	}
}

func TestJournalIsBounded(t *testing.T) {
	m := newTestManager(t, 4)
	a := mustCreate(t, m, m.OpenConnection())
	for i := 0; i < 10; i++ {
		if err := m.SetVisible(a, i%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	events := m.Events(0)
	if len(events) != 4 {
		t.Fatalf("journal holds %d events, want 4", len(events))
	}
	if last := events[len(events)-1].Seq; last != m.Status().EventSeq {
		t.Fatalf("last seq = %d, status = %d", last, m.Status().EventSeq)
	}
}

func TestSubscribe(t *testing.T) {
	m := newTestManager(t, 0)
	a := mustCreate(t, m, m.OpenConnection())

	ch, cancel := m.Subscribe(8)
	if err := m.AddNode(node.RootID, a); err != nil {
		t.Fatal(err)
	}
	ev := <-ch
	if ev.Kind != EventHierarchy || ev.Child != a {
		t.Fatalf("received %+v", ev)
	}
	if m.Status().Subscribers != 1 {
		t.Fatalf("subscriber not counted")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after cancel")
	}
	if m.Status().Subscribers != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestSubscriberDropsWhenFull(t *testing.T) {
	m := newTestManager(t, 0)
	a := mustCreate(t, m, m.OpenConnection())
	ch, cancel := m.Subscribe(1)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := m.SetVisible(a, i%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}

func TestHolderEventsAreFiltered(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	p := mustCreate(t, m, conn)
	c := mustCreate(t, m, conn)
	if err := m.AddNode(p, c); err != nil {
		t.Fatal(err)
	}
	since := m.Status().EventSeq

	if err := m.DestroyNode(p, node.OrphanHold); err != nil {
		t.Fatal(err)
	}
	info, err := m.Node(c)
	if err != nil {
		t.Fatal(err)
	}
	if info.Parent != node.HolderID || info.Drawn {
		t.Fatalf("held node = %+v", info)
	}
	events := m.Events(since)
	if len(events) != 1 || events[0].Node != p || events[0].NewParent != node.HolderID {
		t.Fatalf("events = %+v", events)
	}
}

func TestReorderNodeUsesCurrentParent(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)
	b := mustCreate(t, m, conn)

	if err := m.ReorderNode(a, b, node.Above); !errors.Is(err, node.ErrNotSibling) {
		t.Fatalf("parentless reorder = %v, want ErrNotSibling", err)
	}
	for _, id := range []node.ID{a, b} {
		if err := m.AddNode(node.RootID, id); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.ReorderNode(b, a, node.Below); err != nil {
		t.Fatal(err)
	}
	root, err := m.Node(node.RootID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(root.Children, []node.ID{b, a}) {
		t.Fatalf("root children = %v", root.Children)
	}
}

func TestProtectedRequests(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)

	if err := m.AddNode(node.HolderID, a); !errors.Is(err, node.ErrProtectedNode) {
		t.Fatalf("AddNode(holder) = %v", err)
	}
	if err := m.CreateNodeWithID(node.ID{Connection: node.ServiceConnection, Local: 9}); !errors.Is(err, node.ErrProtectedNode) {
		t.Fatalf("CreateNodeWithID on service connection = %v", err)
	}
	if err := m.DestroyNode(node.RootID, node.OrphanCascade); !errors.Is(err, node.ErrProtectedNode) {
		t.Fatalf("DestroyNode(root) = %v", err)
	}
}

func TestNodeAndTree(t *testing.T) {
	m := newTestManager(t, 0)
	conn := m.OpenConnection()
	a := mustCreate(t, m, conn)
	if err := m.CreateNodeWithID(node.ID{Connection: conn, Local: 10}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddNode(node.RootID, a); err != nil {
		t.Fatal(err)
	}
	if err := m.SetVisible(a, true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetBitmap(a, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}

	info, err := m.Node(a)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Drawn || info.Parent != node.RootID {
		t.Fatalf("info = %+v", info)
	}
	if info.BitmapWidth != 3 || info.BitmapHeight != 2 || info.BitmapDigest == "" {
		t.Fatalf("bitmap info = %+v", info)
	}

	tree := m.Tree()
	if tree.Backend != "headless" || len(tree.Nodes) != 4 {
		t.Fatalf("tree = %s with %d nodes", tree.Backend, len(tree.Nodes))
	}
	if roots := tree.Roots(); !slices.Equal(roots, []node.ID{node.RootID, node.HolderID, {Connection: conn, Local: 10}}) {
		t.Fatalf("roots = %v", roots)
	}
}

func TestCloseConnectionThroughManager(t *testing.T) {
	m := newTestManager(t, 0)
	c1, c2 := m.OpenConnection(), m.OpenConnection()
	a := mustCreate(t, m, c1)
	b := mustCreate(t, m, c2)
	if err := m.AddNode(a, b); err != nil {
		t.Fatal(err)
	}

	if err := m.CloseConnection(c1, node.OrphanPromote); err != nil {
		t.Fatal(err)
	}
	if st := m.Status(); !slices.Equal(st.Connections, []node.ConnectionID{c2}) || st.Nodes != 3 {
		t.Fatalf("status = %+v", st)
	}
	if info, err := m.Node(b); err != nil || !info.Parent.IsZero() {
		t.Fatalf("foreign child = %+v, %v", info, err)
	}
	if _, err := m.CreateNode(c1); !errors.Is(err, node.ErrUnknownConnection) {
		t.Fatalf("CreateNode on closed connection = %v", err)
	}
}
