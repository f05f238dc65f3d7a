// Package snapshot captures the node tree at one instant and stores it as
// deterministic CBOR.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/1broseidon/viewmgr/internal/node"
	"github.com/1broseidon/viewmgr/internal/platform"
)

// formatVersion is bumped when Tree changes incompatibly.
const formatVersion = 1

// NodeInfo describes one node. Children are listed bottom of the stack
// first.
type NodeInfo struct {
	ID           node.ID       `json:"id" cbor:"id"`
	Parent       node.ID       `json:"parent" cbor:"parent"`
	Children     []node.ID     `json:"children,omitempty" cbor:"children,omitempty"`
	Visible      bool          `json:"visible" cbor:"visible"`
	Drawn        bool          `json:"drawn" cbor:"drawn"`
	Bounds       platform.Rect `json:"bounds" cbor:"bounds"`
	BitmapDigest string        `json:"bitmap_digest,omitempty" cbor:"bitmap_digest,omitempty"`
	BitmapWidth  int           `json:"bitmap_width,omitempty" cbor:"bitmap_width,omitempty"`
	BitmapHeight int           `json:"bitmap_height,omitempty" cbor:"bitmap_height,omitempty"`
}

// Tree is every live node, ordered by id.
type Tree struct {
	Version int        `json:"version" cbor:"version"`
	TakenAt time.Time  `json:"taken_at" cbor:"taken_at"`
	Backend string     `json:"backend" cbor:"backend"`
	Nodes   []NodeInfo `json:"nodes" cbor:"nodes"`
}

// New returns an empty tree stamped with the current format version.
func New(backend string, takenAt time.Time) *Tree {
	return &Tree{Version: formatVersion, TakenAt: takenAt.UTC(), Backend: backend}
}

// Index maps ids to their entries.
func (t *Tree) Index() map[node.ID]*NodeInfo {
	idx := make(map[node.ID]*NodeInfo, len(t.Nodes))
	for i := range t.Nodes {
		idx[t.Nodes[i].ID] = &t.Nodes[i]
	}
	return idx
}

// Roots returns the parentless nodes in id order.
func (t *Tree) Roots() []node.ID {
	var roots []node.ID
	for _, n := range t.Nodes {
		if n.Parent.IsZero() {
			roots = append(roots, n.ID)
		}
	}
	return roots
}

// Walk visits the subtree at id depth-first, children bottom first. It
// stops descending when fn returns false.
func (t *Tree) Walk(id node.ID, fn func(n *NodeInfo, depth int) bool) {
	idx := t.Index()
	var visit func(id node.ID, depth int)
	visit = func(id node.ID, depth int) {
		n, ok := idx[id]
		if !ok || !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	visit(id, 0)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("snapshot: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes t. The same tree always encodes to the same bytes.
func Marshal(t *Tree) ([]byte, error) {
	return encMode.Marshal(t)
}

// Unmarshal decodes a tree written by Marshal.
func Unmarshal(data []byte) (*Tree, error) {
	var t Tree
	if err := decMode.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if t.Version != formatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", t.Version)
	}
	return &t, nil
}

// WriteFile stores t at path, replacing any previous snapshot atomically.
func WriteFile(path string, t *Tree) error {
	data, err := Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}
	return nil
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Unmarshal(data)
}
