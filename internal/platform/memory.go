package platform

import (
	"fmt"
	"image"
	"slices"
	"sync"
)

// MemoryBackend is a headless backend. Its surfaces keep their own
// containment and stacking state so that callers can check the native side
// against the logical tree.
type MemoryBackend struct {
	mu       sync.Mutex
	root     *MemorySurface
	bounds   Rect
	nextID   int
	failures map[string]error
	live     int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a headless backend whose root node gets bounds.
func NewMemoryBackend(bounds Rect) *MemoryBackend {
	b := &MemoryBackend{bounds: bounds, failures: make(map[string]error)}
	b.root = &MemorySurface{backend: b, id: 0, visible: true, bounds: bounds}
	return b
}

func (b *MemoryBackend) Name() string { return "headless" }

func (b *MemoryBackend) RootSurface() Surface { return b.root }

func (b *MemoryBackend) RootBounds() Rect { return b.bounds }

func (b *MemoryBackend) Close() error { return nil }

// Root returns the concrete root surface.
func (b *MemoryBackend) Root() *MemorySurface { return b.root }

// Live returns the number of created surfaces not yet destroyed, excluding
// the root.
func (b *MemoryBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// FailNext makes the next call of the named operation ("create",
// "reparent", "restack", "bounds", "visible", "paint", "destroy") on any
// surface return err.
func (b *MemoryBackend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = err
}

func (b *MemoryBackend) takeFailure(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err, ok := b.failures[op]
	if !ok {
		return nil
	}
	delete(b.failures, op)
	return err
}

// MemorySurface is the Surface implementation used by MemoryBackend.
type MemorySurface struct {
	backend   *MemoryBackend
	id        int
	parent    *MemorySurface
	children  []*MemorySurface
	bounds    Rect
	visible   bool
	contents  *image.RGBA
	paints    int
	destroyed bool
}

var _ Surface = (*MemorySurface)(nil)

func (s *MemorySurface) ID() int { return s.id }
func (s *MemorySurface) Parent() *MemorySurface { return s.parent }
func (s *MemorySurface) Bounds() Rect { return s.bounds }
func (s *MemorySurface) Visible() bool { return s.visible }
func (s *MemorySurface) Contents() *image.RGBA { return s.contents }
func (s *MemorySurface) PaintCount() int { return s.paints }
func (s *MemorySurface) Destroyed() bool { return s.destroyed }
func (s *MemorySurface) Children() []*MemorySurface { return slices.Clone(s.children) }

func (s *MemorySurface) String() string {
	return fmt.Sprintf("surface#%d", s.id)
}

func (s *MemorySurface) CreateChildSurface() (Surface, error) {
	if s.destroyed {
		return nil, ErrSurfaceDestroyed
	}
	if err := s.backend.takeFailure("create"); err != nil {
		return nil, err
	}
	s.backend.mu.Lock()
	s.backend.nextID++
	s.backend.live++
	id := s.backend.nextID
	s.backend.mu.Unlock()

	child := &MemorySurface{backend: s.backend, id: id, parent: s}
	s.children = append(s.children, child)
	return child, nil
}

func (s *MemorySurface) Reparent(parent Surface) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	target := s.backend.root
	if parent != nil {
		p, ok := parent.(*MemorySurface)
		if !ok {
			return fmt.Errorf("reparent: foreign surface %T", parent)
		}
		if p.destroyed {
			return ErrSurfaceDestroyed
		}
		target = p
	}
	if err := s.backend.takeFailure("reparent"); err != nil {
		return err
	}
	s.detach()
	s.parent = target
	target.children = append(target.children, s)
	return nil
}

func (s *MemorySurface) Restack(relative Surface, above bool) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	rel, ok := relative.(*MemorySurface)
	if !ok || rel == nil {
		return fmt.Errorf("restack: foreign surface %T", relative)
	}
	if rel.parent != s.parent || s.parent == nil {
		return fmt.Errorf("restack: %s and %s are not siblings", s, rel)
	}
	if err := s.backend.takeFailure("restack"); err != nil {
		return err
	}
	siblings := s.parent.children
	siblings = slices.DeleteFunc(siblings, func(c *MemorySurface) bool { return c == s })
	idx := slices.Index(siblings, rel)
	if above {
		idx++
	}
	s.parent.children = slices.Insert(siblings, idx, s)
	return nil
}

func (s *MemorySurface) SetBounds(bounds Rect) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if err := s.backend.takeFailure("bounds"); err != nil {
		return err
	}
	s.bounds = bounds
	return nil
}

func (s *MemorySurface) SetVisible(visible bool) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if err := s.backend.takeFailure("visible"); err != nil {
		return err
	}
	s.visible = visible
	return nil
}

func (s *MemorySurface) Paint(img *image.RGBA) error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if err := s.backend.takeFailure("paint"); err != nil {
		return err
	}
	s.contents = img
	s.paints++
	return nil
}

// Destroy removes the surface from its parent. Children still attached are
// returned to the root, mirroring how a window system reclaims them.
func (s *MemorySurface) Destroy() error {
	if s.destroyed {
		return ErrSurfaceDestroyed
	}
	if s == s.backend.root {
		return fmt.Errorf("destroy: cannot destroy root surface")
	}
	if err := s.backend.takeFailure("destroy"); err != nil {
		return err
	}
	s.detach()
	for _, c := range s.children {
		c.parent = s.backend.root
		s.backend.root.children = append(s.backend.root.children, c)
	}
	s.children = nil
	s.destroyed = true
	s.backend.mu.Lock()
	s.backend.live--
	s.backend.mu.Unlock()
	return nil
}

func (s *MemorySurface) detach() {
	if s.parent == nil {
		return
	}
	s.parent.children = slices.DeleteFunc(s.parent.children, func(c *MemorySurface) bool { return c == s })
	s.parent = nil
}
