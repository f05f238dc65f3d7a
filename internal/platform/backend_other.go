//go:build !linux

package platform

import "errors"

// X11Backend is only available on linux.
type X11Backend struct{ MemoryBackend }

func NewX11Backend(display, monitor string) (*X11Backend, error) {
	return nil, errors.New("x11 backend is only supported on linux")
}

func (b *X11Backend) EventLoop() {}
