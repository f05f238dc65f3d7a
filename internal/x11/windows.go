package x11

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/xgraphics"
	"github.com/BurntSushi/xgbutil/xwindow"
)

// ErrGeometryRange reports a position or size the X protocol cannot carry.
var ErrGeometryRange = errors.New("geometry outside the X11 range")

// CheckGeometry rejects positions outside int16 and sizes outside uint16,
// which the wire format would otherwise truncate.
func CheckGeometry(x, y, width, height int) error {
	if x < math.MinInt16 || x > math.MaxInt16 || y < math.MinInt16 || y > math.MaxInt16 {
		return fmt.Errorf("%w: position %d,%d", ErrGeometryRange, x, y)
	}
	if width < 0 || width > math.MaxUint16 || height < 0 || height > math.MaxUint16 {
		return fmt.Errorf("%w: size %dx%d", ErrGeometryRange, width, height)
	}
	return nil
}

// CreateWindow creates an unmapped 1x1 input/output window under parent.
func (c *Connection) CreateWindow(parent xproto.Window) (xproto.Window, error) {
	win, err := xwindow.Generate(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate window id: %w", err)
	}

	err = win.CreateChecked(parent, 0, 0, 1, 1,
		xproto.CwBackPixel|xproto.CwEventMask,
		0, xproto.EventMaskExposure|xproto.EventMaskStructureNotify)
	if err != nil {
		return 0, fmt.Errorf("failed to create window: %w", err)
	}
	return win.Id, nil
}

// ReparentWindow moves windowID under parent at (x, y). X places the
// reparented window on top of its new siblings.
func (c *Connection) ReparentWindow(windowID, parent xproto.Window, x, y int) error {
	if err := CheckGeometry(x, y, 0, 0); err != nil {
		return err
	}
	err := xproto.ReparentWindowChecked(c.XUtil.Conn(), windowID, parent, int16(x), int16(y)).Check()
	if err != nil {
		return fmt.Errorf("failed to reparent window %d: %w", windowID, err)
	}
	return nil
}

// RestackWindow stacks windowID directly above or below sibling.
func (c *Connection) RestackWindow(windowID, sibling xproto.Window, above bool) error {
	mode := uint32(xproto.StackModeBelow)
	if above {
		mode = uint32(xproto.StackModeAbove)
	}
	err := xproto.ConfigureWindowChecked(c.XUtil.Conn(), windowID,
		xproto.ConfigWindowSibling|xproto.ConfigWindowStackMode,
		[]uint32{uint32(sibling), mode}).Check()
	if err != nil {
		return fmt.Errorf("failed to restack window %d: %w", windowID, err)
	}
	return nil
}

// MoveResizeWindow moves and resizes a window to the specified geometry.
// X rejects zero sizes, so dimensions are clamped to 1.
func (c *Connection) MoveResizeWindow(windowID xproto.Window, x, y, width, height int) error {
	if err := CheckGeometry(x, y, width, height); err != nil {
		return err
	}
	width = max(width, 1)
	height = max(height, 1)
	err := xproto.ConfigureWindowChecked(c.XUtil.Conn(), windowID,
		xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{uint32(int32(x)), uint32(int32(y)), uint32(width), uint32(height)}).Check()
	if err != nil {
		return fmt.Errorf("failed to move/resize window %d: %w", windowID, err)
	}
	return nil
}

// SetMapped maps or unmaps a window.
func (c *Connection) SetMapped(windowID xproto.Window, mapped bool) error {
	var err error
	if mapped {
		err = xproto.MapWindowChecked(c.XUtil.Conn(), windowID).Check()
	} else {
		err = xproto.UnmapWindowChecked(c.XUtil.Conn(), windowID).Check()
	}
	if err != nil {
		return fmt.Errorf("failed to change map state of window %d: %w", windowID, err)
	}
	return nil
}

// PaintWindow sets img as the window's contents. A nil image clears the
// window to its background.
func (c *Connection) PaintWindow(windowID xproto.Window, img *image.RGBA) error {
	if img == nil {
		err := xproto.ClearAreaChecked(c.XUtil.Conn(), false, windowID, 0, 0, 0, 0).Check()
		if err != nil {
			return fmt.Errorf("failed to clear window %d: %w", windowID, err)
		}
		return nil
	}

	ximg := xgraphics.NewConvert(c.XUtil, img)
	defer ximg.Destroy()
	if err := ximg.XSurfaceSet(windowID); err != nil {
		return fmt.Errorf("failed to attach pixmap to window %d: %w", windowID, err)
	}
	ximg.XDraw()
	ximg.XPaint(windowID)
	return nil
}

// DestroyWindow destroys a window and its X subwindows.
func (c *Connection) DestroyWindow(windowID xproto.Window) error {
	if err := xproto.DestroyWindowChecked(c.XUtil.Conn(), windowID).Check(); err != nil {
		return fmt.Errorf("failed to destroy window %d: %w", windowID, err)
	}
	return nil
}
