package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1broseidon/viewmgr/internal/config"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/snapshot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) Tree() *snapshot.Tree {
	c.calls.Add(1)
	return snapshot.New("test", time.Now())
}

func TestSnapshotterSkipsUnchangedTrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")
	src := &countingSource{}
	var seq atomic.Uint64
	s := NewSnapshotter(SnapshotterConfig{Path: path, Logger: quietLogger()}, src, seq.Load)

	s.snapshot()
	s.snapshot()
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("tree captured %d times, want 1", got)
	}
	seq.Store(5)
	s.snapshot()
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("tree captured %d times after change, want 2", got)
	}
	if _, err := snapshot.ReadFile(path); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
}

func TestSnapshotterRunWritesOnTickAndStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.cbor")
	src := &countingSource{}
	s := NewSnapshotter(SnapshotterConfig{Interval: 10 * time.Millisecond, Path: path, Logger: quietLogger()}, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if src.calls.Load() < 2 {
		t.Fatalf("expected ticks plus a final snapshot, got %d", src.calls.Load())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
}

func TestOpenBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	b, err := OpenBackend(cfg)
	if err != nil {
		t.Fatalf("OpenBackend(headless): %v", err)
	}
	if b.Name() != "headless" || b.RootBounds() != cfg.RootBounds {
		t.Fatalf("backend = %s %s", b.Name(), b.RootBounds())
	}

	cfg.Backend = "wayland"
	if _, err := OpenBackend(cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestRunServesIPC(t *testing.T) {
	sockDir, err := os.MkdirTemp("", "vmd")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(sockDir)

	cfg := config.DefaultConfig()
	cfg.Snapshot.IntervalSeconds = 3600
	cfg.Snapshot.Path = filepath.Join(t.TempDir(), "tree.cbor")

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- Run(ctx, cfg, Options{
			SocketPath: filepath.Join(sockDir, "d.sock"),
			Logger:     quietLogger(),
			Ready:      func(p string) { ready <- p },
		})
	}()

	var sock string
	select {
	case sock = <-ready:
	case err := <-errc:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	c := ipc.NewClientAt(sock)
	conn, err := c.Connect()
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	id, err := c.CreateNode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddNode(node.RootID, id); err != nil {
		t.Fatal(err)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The final snapshot on shutdown carries the node.
	tree, err := snapshot.ReadFile(cfg.Snapshot.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if _, ok := tree.Index()[id]; !ok {
		t.Fatalf("snapshot lacks %s", id)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
}
