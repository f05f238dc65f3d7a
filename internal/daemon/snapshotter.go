package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/viewmgr/internal/snapshot"
)

// TreeSource captures the current node tree.
type TreeSource interface {
	Tree() *snapshot.Tree
}

// SnapshotterConfig holds configuration for the snapshotter.
type SnapshotterConfig struct {
	Interval time.Duration
	Path     string
	Logger   *slog.Logger
}

// Snapshotter periodically writes the node tree to disk.
type Snapshotter struct {
	interval time.Duration
	path     string
	source   TreeSource
	logger   *slog.Logger
	lastSeq  func() uint64
	written  uint64
	hasWrite bool
}

// NewSnapshotter creates a snapshotter writing source's tree to cfg.Path.
// When lastSeq is set, ticks where it has not moved since the previous
// write are skipped.
func NewSnapshotter(cfg SnapshotterConfig, source TreeSource, lastSeq func() uint64) *Snapshotter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Snapshotter{
		interval: interval,
		path:     cfg.Path,
		source:   source,
		logger:   logger,
		lastSeq:  lastSeq,
	}
}

// Run starts the snapshot loop. Blocks until context is cancelled, then
// writes a final snapshot.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("snapshotter started", "interval", s.interval, "path", s.path)

	for {
		select {
		case <-ctx.Done():
			s.snapshot()
			s.logger.Info("snapshotter stopped")
			return
		case <-ticker.C:
			s.snapshot()
		}
	}
}

// snapshot writes one snapshot unless nothing changed since the last.
func (s *Snapshotter) snapshot() {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("snapshotter panic recovered", "error", err)
		}
	}()

	var seq uint64
	if s.lastSeq != nil {
		seq = s.lastSeq()
		if s.hasWrite && seq == s.written {
			return
		}
	}

	tree := s.source.Tree()
	if err := snapshot.WriteFile(s.path, tree); err != nil {
		s.logger.Error("snapshotter: failed to write snapshot", "path", s.path, "error", err)
		return
	}
	s.written = seq
	s.hasWrite = true
	s.logger.Debug("snapshot written", "path", s.path, "nodes", len(tree.Nodes), "seq", seq)
}
