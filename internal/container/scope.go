package container

import (
	"fmt"
	"sync"

	"github.com/inference-core/coord-core/internal/corerr"
)

// ScopeHandle is a child resolution context: Scoped-lifetime services
// resolved through it are cached for the handle's lifetime only, while
// Singleton and Transient services still defer to the root Container.
type ScopeHandle struct {
	root *Container

	mu        sync.Mutex
	instances map[string]any
	resolving map[string]bool
}

// NewScope opens a new scope over the container.
func (c *Container) NewScope() *ScopeHandle {
	return &ScopeHandle{
		root:      c,
		instances: make(map[string]any),
		resolving: make(map[string]bool),
	}
}

// Resolve builds (or returns the cached instance of) the service
// registered under name. Singleton and Transient services resolve
// exactly as they would on the root Container; Scoped services are
// cached per-ScopeHandle.
func (s *ScopeHandle) Resolve(name string) (any, error) {
	s.root.mu.Lock()
	d, ok := s.root.descriptors[name]
	s.root.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("service %q: %w", name, corerr.ErrUnregisteredService)
	}

	if d.scope != Scoped {
		return s.root.Resolve(name)
	}

	s.mu.Lock()
	if v, cached := s.instances[name]; cached {
		s.mu.Unlock()
		return v, nil
	}
	if s.resolving[name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("service %q: %w", name, corerr.ErrCircularDependency)
	}
	s.resolving[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.resolving, name)
		s.mu.Unlock()
	}()

	instance, err := d.factory(s)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}

	s.mu.Lock()
	s.instances[name] = instance
	s.mu.Unlock()
	return instance, nil
}
