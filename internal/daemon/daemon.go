// Package daemon runs the view service: it opens the native backend, builds
// the manager and serves it over IPC until cancelled.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/viewmgr/internal/config"
	"github.com/1broseidon/viewmgr/internal/ipc"
	"github.com/1broseidon/viewmgr/internal/manager"
	"github.com/1broseidon/viewmgr/internal/platform"
	"github.com/1broseidon/viewmgr/internal/runtimepath"
)

// Options are the daemon's runtime inputs beyond the config file.
type Options struct {
	SocketPath string
	Logger     *slog.Logger
	// Ready, when set, is called once the IPC socket is listening.
	Ready func(socketPath string)
}

// OpenBackend connects to the backend named in cfg.
func OpenBackend(cfg *config.Config) (platform.Backend, error) {
	switch cfg.Backend {
	case config.BackendHeadless:
		return platform.NewMemoryBackend(cfg.RootBounds), nil
	case config.BackendX11:
		b, err := platform.NewX11Backend(cfg.Display, cfg.Monitor)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to display %s: %w", cfg.Display, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Run serves cfg until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := OpenBackend(cfg)
	if err != nil {
		return err
	}

	mgr, err := manager.New(backend, manager.Options{EventBuffer: cfg.EventBuffer, Logger: logger})
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to start view manager: %w", err)
	}
	defer mgr.Close()

	if x, ok := backend.(*platform.X11Backend); ok {
		go x.EventLoop()
	}

	snapshotPath := cfg.Snapshot.Path
	if snapshotPath == "" {
		snapshotPath, err = runtimepath.SnapshotPath()
		if err != nil {
			return err
		}
	}

	server, err := ipc.NewServer(mgr, ipc.ServerOptions{
		SocketPath:   opts.SocketPath,
		SnapshotPath: snapshotPath,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	var wg sync.WaitGroup
	if cfg.Snapshot.IntervalSeconds > 0 {
		snap := NewSnapshotter(SnapshotterConfig{
			Interval: time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second,
			Path:     snapshotPath,
			Logger:   logger,
		}, mgr, func() uint64 { return mgr.Status().EventSeq })
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap.Run(ctx)
		}()
	}

	logger.Info("viewmgr daemon started", "backend", backend.Name(), "socket", server.SocketPath())
	if opts.Ready != nil {
		opts.Ready(server.SocketPath())
	}

	<-ctx.Done()
	logger.Info("viewmgr daemon shutting down")
	wg.Wait()
	return nil
}
