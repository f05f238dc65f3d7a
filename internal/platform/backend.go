package platform

import (
	"errors"
	"fmt"
	"image"
)

// Rect describes a rectangular region in parent-relative coordinates.
type Rect struct {
	X      int `json:"x" yaml:"x" cbor:"x"`
	Y      int `json:"y" yaml:"y" cbor:"y"`
	Width  int `json:"width" yaml:"width" cbor:"width"`
	Height int `json:"height" yaml:"height" cbor:"height"`
}

// Empty reports whether the rect has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// ErrSurfaceDestroyed is returned by surface operations after Destroy.
var ErrSurfaceDestroyed = errors.New("surface destroyed")

// Surface is the native drawable a node projects onto. Implementations are
// not safe for concurrent use; callers serialize access.
type Surface interface {
	// CreateChildSurface creates a new hidden surface parented to this one.
	CreateChildSurface() (Surface, error)
	// Reparent moves the surface under parent, topmost among its new
	// siblings. A nil parent returns it to the native root.
	Reparent(parent Surface) error
	// Restack moves the surface directly above or below relative, which
	// must share its parent.
	Restack(relative Surface, above bool) error
	SetBounds(bounds Rect) error
	SetVisible(visible bool) error
	// Paint replaces the surface contents. A nil image clears them.
	Paint(img *image.RGBA) error
	Destroy() error
}

// Backend abstracts the windowing system the node tree is projected onto.
type Backend interface {
	// Name identifies the backend in status output and logs.
	Name() string
	// RootSurface returns the surface representing the native root. Node
	// surfaces are created beneath it.
	RootSurface() Surface
	// RootBounds returns the geometry assigned to the service root node.
	RootBounds() Rect
	Close() error
}
