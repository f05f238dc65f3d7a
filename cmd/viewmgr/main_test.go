package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/viewmgr/internal/config"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// startDaemon serves a headless manager and points the CLI at it.
func startDaemon(t *testing.T) *manager.Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := manager.New(platform.NewMemoryBackend(platform.Rect{Width: 640, Height: 480}), manager.Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	sockDir, err := os.MkdirTemp("", "vmcli")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	socket := filepath.Join(sockDir, "cli.sock")
	srv, err := ipc.NewServer(mgr, ipc.ServerOptions{
		SocketPath:   socket,
		SnapshotPath: filepath.Join(sockDir, "tree.cbor"),
		Logger:       logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	t.Setenv("VIEWMGR_SOCKET", socket)
	t.Setenv("HOME", t.TempDir())
	return mgr
}

func TestNodeCommands(t *testing.T) {
	mgr := startDaemon(t)

	if rc := runConnect(nil); rc != 0 {
		t.Fatalf("connect rc=%d", rc)
	}
	steps := [][]string{
		{"create", "--connection", "1", "--parent", "0:1", "--show"},
		{"create", "-c", "1"},
		{"add", "1:1", "1:2"},
		{"bounds", "1:2", "10", "20", "30", "40"},
		{"show", "1:2"},
		{"create", "--id", "1:7", "--parent", "1:1"},
		{"reorder", "1:7", "below", "1:2"},
		{"hide", "1:1"},
	}
	for _, args := range steps {
		if rc := runNode(args); rc != 0 {
			t.Fatalf("node %v rc=%d", args, rc)
		}
	}

	info, err := mgr.Node(node.ID{Connection: 1, Local: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []node.ID{{Connection: 1, Local: 7}, {Connection: 1, Local: 2}}
	if len(info.Children) != 2 || info.Children[0] != want[0] || info.Children[1] != want[1] {
		t.Fatalf("children = %v, want %v", info.Children, want)
	}
	child, _ := mgr.Node(node.ID{Connection: 1, Local: 2})
	if !child.Visible || child.Drawn || child.Bounds != (platform.Rect{X: 10, Y: 20, Width: 30, Height: 40}) {
		t.Fatalf("child = %+v", child)
	}

	if rc := runNode([]string{"destroy", "1:1"}); rc != 1 {
		t.Fatalf("destroy without policy rc=%d, want 1", rc)
	}
	if rc := runNode([]string{"destroy", "--policy", "hold", "1:1"}); rc != 0 {
		t.Fatalf("destroy rc=%d", rc)
	}
	holder, _ := mgr.Node(node.HolderID)
	if len(holder.Children) != 2 {
		t.Fatalf("holder children = %v", holder.Children)
	}

	if rc := runDisconnect([]string{"--policy", "cascade", "1"}); rc != 0 {
		t.Fatalf("disconnect rc=%d", rc)
	}
	if st := mgr.Status(); st.Nodes != 2 || len(st.Connections) != 0 {
		t.Fatalf("status after disconnect = %+v", st)
	}
}

func TestNodeCommandErrors(t *testing.T) {
	startDaemon(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown subcommand", []string{"explode"}, 2},
		{"missing args", []string{"add", "0:1"}, 2},
		{"bad id", []string{"show", "root"}, 1},
		{"unknown node", []string{"show", "9:9"}, 1},
		{"create without connection", []string{"create"}, 2},
		{"bad direction", []string{"reorder", "0:1", "left", "0:2"}, 1},
		{"negative size", []string{"bounds", "0:1", "0", "0", "-1", "5"}, 1},
		{"help", []string{"--help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rc := runNode(tt.args); rc != tt.want {
				t.Fatalf("runNode(%v) rc=%d, want %d", tt.args, rc, tt.want)
			}
		})
	}
}

func TestNodeBitmapFromPNG(t *testing.T) {
	mgr := startDaemon(t)
	if rc := runConnect(nil); rc != 0 {
		t.Fatalf("connect rc=%d", rc)
	}
	if rc := runNode([]string{"create", "-c", "1"}); rc != 0 {
		t.Fatalf("create rc=%d", rc)
	}

	img := image.NewNRGBA(image.Rect(2, 2, 6, 5))
	img.Set(3, 3, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, enc := range []string{"lz4", "zstd", "none"} {
		if rc := runNode([]string{"bitmap", "--encoding", enc, "1:1", path}); rc != 0 {
			t.Fatalf("bitmap %s rc=%d", enc, rc)
		}
	}
	info, _ := mgr.Node(node.ID{Connection: 1, Local: 1})
	if info.BitmapWidth != 4 || info.BitmapHeight != 3 || info.BitmapDigest == "" {
		t.Fatalf("bitmap info = %+v", info)
	}

	if rc := runNode([]string{"bitmap", "--clear", "1:1"}); rc != 0 {
		t.Fatalf("clear rc=%d", rc)
	}
	if info, _ := mgr.Node(node.ID{Connection: 1, Local: 1}); info.BitmapDigest != "" {
		t.Fatalf("bitmap not cleared: %+v", info)
	}
}

func TestSnapshotWriteAndShow(t *testing.T) {
	startDaemon(t)
	path := filepath.Join(filepath.Dir(os.Getenv("VIEWMGR_SOCKET")), "snap.cbor")

	if rc := runSnapshot([]string{"write", "snap.cbor"}); rc != 0 {
		t.Fatalf("snapshot write rc=%d", rc)
	}
	if rc := runSnapshot([]string{"write", "../escape.cbor"}); rc != 1 {
		t.Fatalf("snapshot write outside the snapshot directory rc=%d, want 1", rc)
	}
	tree, err := snapshot.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Nodes) != 2 {
		t.Fatalf("snapshot nodes = %d", len(tree.Nodes))
	}
	if rc := runSnapshot([]string{"show", "--no-color", path}); rc != 0 {
		t.Fatalf("snapshot show rc=%d", rc)
	}
	if rc := runSnapshot([]string{"show", filepath.Join(t.TempDir(), "missing.cbor")}); rc != 1 {
		t.Fatalf("show missing rc=%d, want 1", rc)
	}
}

func TestRenderTree(t *testing.T) {
	a := node.ID{Connection: 1, Local: 1}
	b := node.ID{Connection: 1, Local: 2}
	c := node.ID{Connection: 1, Local: 3}
	tree := snapshot.New("headless", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	tree.Nodes = []snapshot.NodeInfo{
		{ID: node.RootID, Children: []node.ID{a}, Visible: true, Drawn: true},
		{ID: node.HolderID},
		{ID: a, Parent: node.RootID, Children: []node.ID{b, c}, Visible: true, Drawn: true},
		{ID: b, Parent: a},
		{ID: c, Parent: a, Visible: true, Drawn: true, BitmapDigest: "0123456789abcdef", BitmapWidth: 2, BitmapHeight: 2},
	}

	var out bytes.Buffer
	renderTree(&out, tree, newTreeStyles(false), 0)
	got := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	want := []string{
		"headless  5 nodes  2024-01-02T03:04:05Z",
		"0:1 [0x0+0+0, drawn]",
		"└── 1:1 [0x0+0+0, drawn]",
		"    ├── 1:3 [0x0+0+0, drawn, bitmap 2x2 01234567]",
		"    └── 1:2 [0x0+0+0, hidden]",
		"0:2 [0x0+0+0, hidden, orphan holder]",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(got), out.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatEvent(t *testing.T) {
	visible := false
	old, cur := platform.Rect{}, platform.Rect{Width: 5, Height: 5}
	tests := []struct {
		ev   manager.Event
		want string
	}{
		{manager.Event{Kind: manager.EventHierarchy, Node: node.RootID, Child: node.ID{Connection: 1, Local: 1}, NewParent: node.RootID}, "child=1:1 from=- to=0:1"},
		{manager.Event{Kind: manager.EventStacking, Node: node.RootID, Child: node.ID{Connection: 1, Local: 1}, Relative: node.ID{Connection: 1, Local: 2}, Direction: "above"}, "child=1:1 above 1:2"},
		{manager.Event{Kind: manager.EventVisibility, Node: node.RootID, Visible: &visible}, "visible=false"},
		{manager.Event{Kind: manager.EventBounds, Node: node.RootID, OldBounds: &old, Bounds: &cur}, "-> " + cur.String()},
		{manager.Event{Kind: manager.EventBitmap, Node: node.RootID}, "cleared"},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.ev); !strings.HasSuffix(got, tt.want) {
			t.Errorf("formatEvent(%s) = %q, want suffix %q", tt.ev.Kind, got, tt.want)
		}
	}
}

func TestParseRect(t *testing.T) {
	tests := []struct {
		args    []string
		want    platform.Rect
		wantErr bool
	}{
		{[]string{"1", "2", "3", "4"}, platform.Rect{X: 1, Y: 2, Width: 3, Height: 4}, false},
		{[]string{"-5", "-5", "0", "0"}, platform.Rect{X: -5, Y: -5}, false},
		{[]string{"1", "2", "x", "4"}, platform.Rect{}, true},
		{[]string{"1", "2", "3"}, platform.Rect{}, true},
		{[]string{"0", "0", "3", "-4"}, platform.Rect{}, true},
	}
	for _, tt := range tests {
		got, err := parseRect(tt.args)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseRect(%v) = %v, %v", tt.args, got, err)
		}
	}
}

func TestExplainValue(t *testing.T) {
	cfg := config.DefaultConfig()
	v, err := explainValue(cfg, "root_bounds.width")
	if err != nil {
		t.Fatal(err)
	}
	if v.Value != "1920" {
		t.Fatalf("root_bounds.width = %q", v.Value)
	}
	if _, err := explainValue(cfg, "logging.nope"); err == nil {
		t.Fatalf("expected error for unknown path")
	}
	if _, err := explainValue(cfg, "backend.deeper"); err == nil {
		t.Fatalf("expected error for scalar parent")
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("backend: headless\nevent_buffer: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("backend: wayland\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		args []string
		want int
	}{
		{[]string{"validate", "--path", good}, 0},
		{[]string{"validate", "--path", bad}, 1},
		{[]string{"print", "--defaults"}, 0},
		{[]string{"explain", "--path", good, "event_buffer"}, 0},
		{[]string{"explain", "--path", good}, 2},
		{[]string{"frobnicate"}, 2},
	}
	for _, tt := range tests {
		if rc := runConfig(tt.args); rc != tt.want {
			t.Errorf("runConfig(%v) rc=%d, want %d", tt.args, rc, tt.want)
		}
	}
}

func TestToRGBANormalizesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(3, 4, 5, 6))
	src.Set(3, 4, color.RGBA{G: 9, A: 255})
	got := toRGBA(src)
	if got.Rect.Min != (image.Point{}) || got.Rect.Dx() != 2 || got.Rect.Dy() != 2 {
		t.Fatalf("rect = %v", got.Rect)
	}
	if c := got.RGBAAt(0, 0); c.G != 9 {
		t.Fatalf("pixel = %v", c)
	}
}
