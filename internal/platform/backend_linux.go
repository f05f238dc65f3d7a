//go:build linux

package platform

import (
	"fmt"
	"image"

	"github.com/1broseidon/viewmgr/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
)

// X11Backend projects node surfaces onto X11 windows.
type X11Backend struct {
	conn   *x11.Connection
	root   *X11Surface
	bounds Rect
}

var _ Backend = (*X11Backend)(nil)

// NewX11Backend opens display and uses the named RandR monitor (first when
// empty) as the root node's geometry.
func NewX11Backend(display, monitor string) (*X11Backend, error) {
	conn, err := x11.NewConnection(display)
	if err != nil {
		return nil, err
	}

	m, err := conn.FindMonitor(monitor)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to resolve root monitor: %w", err)
	}

	b := &X11Backend{
		conn:   conn,
		bounds: Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height},
	}
	b.root = &X11Surface{conn: conn, window: conn.Root, root: true}
	return b, nil
}

func (b *X11Backend) Name() string { return "x11" }

func (b *X11Backend) RootSurface() Surface { return b.root }

func (b *X11Backend) RootBounds() Rect { return b.bounds }

// EventLoop runs the X event loop until Close.
func (b *X11Backend) EventLoop() {
	b.conn.EventLoop()
}

func (b *X11Backend) Close() error {
	b.conn.Quit()
	b.conn.Close()
	return nil
}

// X11Surface is a Surface backed by one X window.
type X11Surface struct {
	conn      *x11.Connection
	window    xproto.Window
	bounds    Rect
	root      bool
	destroyed bool
}

var _ Surface = (*X11Surface)(nil)

// Window returns the backing X window id.
func (s *X11Surface) Window() xproto.Window { return s.window }

func (s *X11Surface) CreateChildSurface() (Surface, error) {
	if s.destroyed {
		return nil, ErrSurfaceDestroyed
	}
	wid, err := s.conn.CreateWindow(s.window)
	if err != nil {
		return nil, err
	}
	return &X11Surface{conn: s.conn, window: wid, bounds: Rect{Width: 1, Height: 1}}, nil
}

func (s *X11Surface) Reparent(parent Surface) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	target := s.conn.Root
	if parent != nil {
		p, ok := parent.(*X11Surface)
		if !ok {
			return fmt.Errorf("reparent: foreign surface %T", parent)
		}
		target = p.window
	}
	return s.conn.ReparentWindow(s.window, target, s.bounds.X, s.bounds.Y)
}

func (s *X11Surface) Restack(relative Surface, above bool) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	rel, ok := relative.(*X11Surface)
	if !ok {
		return fmt.Errorf("restack: foreign surface %T", relative)
	}
	return s.conn.RestackWindow(s.window, rel.window, above)
}

func (s *X11Surface) SetBounds(bounds Rect) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if s.root {
		return fmt.Errorf("set bounds: root window geometry is owned by the X server")
	}
	if err := x11.CheckGeometry(bounds.X, bounds.Y, bounds.Width, bounds.Height); err != nil {
		return fmt.Errorf("set bounds: %w", err)
	}
	if err := s.conn.MoveResizeWindow(s.window, bounds.X, bounds.Y, bounds.Width, bounds.Height); err != nil {
		return err
	}
	s.bounds = bounds
	return nil
}

func (s *X11Surface) SetVisible(visible bool) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	return s.conn.SetMapped(s.window, visible)
}

func (s *X11Surface) Paint(img *image.RGBA) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	return s.conn.PaintWindow(s.window, img)
}

func (s *X11Surface) Destroy() error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if s.root {
		return fmt.Errorf("destroy: cannot destroy root window")
	}
	if err := s.conn.DestroyWindow(s.window); err != nil {
		return err
	}
	s.destroyed = true
	return nil
}
