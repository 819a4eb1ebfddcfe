// Package container implements the dependency-injection container from
// spec.md §5: explicit factory-closure registration (never reflection
// over a constructor's signature), lifecycle scopes, and cycle
// detection during Resolve.
//
// Grounded on the teacher's general registry idiom (a sync.RWMutex
// guarding a name-keyed map, e.g. kernel/threads/registry/loader.go)
// generalized from a module registry to a service registry.
package container

import (
	"fmt"
	"sync"

	"github.com/inference-core/coord-core/internal/corerr"
)

// Scope controls how many times a service's factory runs.
type Scope int

const (
	// Singleton factories run once; the result is cached and reused.
	Singleton Scope = iota
	// Transient factories run on every Resolve call.
	Transient
	// Scoped factories run once per *ScopeHandle (see (*Container).NewScope).
	Scoped
)

func (s Scope) String() string {
	switch s {
	case Singleton:
		return "singleton"
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// Factory builds a service instance given a resolver for its
// dependencies. Implementations call r.Resolve(name) for anything
// they need rather than the Container directly, so the same factory
// works unmodified whether it runs against the root container or a
// child Scope.
type Factory func(r Resolver) (any, error)

// Resolver is the subset of Container a Factory is allowed to see.
type Resolver interface {
	Resolve(name string) (any, error)
}

type descriptor struct {
	name    string
	scope   Scope
	factory Factory
}

// Container is the root service registry. It is safe for concurrent
// use.
type Container struct {
	mu          sync.Mutex
	descriptors map[string]*descriptor
	singletons  map[string]any
	resolving   map[string]bool
}

// New returns an empty Container.
func New() *Container {
	return &Container{
		descriptors: make(map[string]*descriptor),
		singletons:  make(map[string]any),
		resolving:   make(map[string]bool),
	}
}

// RegisterSingleton registers factory under name with Singleton scope.
func (c *Container) RegisterSingleton(name string, factory Factory) error {
	return c.register(name, Singleton, factory)
}

// RegisterTransient registers factory under name with Transient scope.
func (c *Container) RegisterTransient(name string, factory Factory) error {
	return c.register(name, Transient, factory)
}

// RegisterScoped registers factory under name with Scoped scope.
func (c *Container) RegisterScoped(name string, factory Factory) error {
	return c.register(name, Scoped, factory)
}

// RegisterInstance registers an already-constructed value under name
// as if it were a Singleton whose factory has already run.
func (c *Container) RegisterInstance(name string, instance any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.descriptors[name]; exists {
		return fmt.Errorf("service %q already registered: %w", name, corerr.ErrInvalidInput)
	}
	c.descriptors[name] = &descriptor{name: name, scope: Singleton, factory: nil}
	c.singletons[name] = instance
	return nil
}

func (c *Container) register(name string, scope Scope, factory Factory) error {
	if name == "" {
		return fmt.Errorf("service name must not be empty: %w", corerr.ErrInvalidInput)
	}
	if factory == nil {
		return fmt.Errorf("factory for %q must not be nil: %w", name, corerr.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.descriptors[name]; exists {
		return fmt.Errorf("service %q already registered: %w", name, corerr.ErrInvalidInput)
	}
	c.descriptors[name] = &descriptor{name: name, scope: scope, factory: factory}
	return nil
}

// Resolve builds (or returns the cached instance of) the service
// registered under name, detecting circular dependencies via a
// currently-resolving set.
//
// The container's lock is never held across a recursive Resolve call:
// each frame takes the lock only to check/update bookkeeping, then
// releases it before invoking the factory (which may itself call
// Resolve). This keeps concurrent Resolve calls for unrelated services
// from serializing on a single mutex.
func (c *Container) Resolve(name string) (any, error) {
	c.mu.Lock()
	d, ok := c.descriptors[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("service %q: %w", name, corerr.ErrUnregisteredService)
	}

	if d.scope == Singleton {
		if v, cached := c.singletons[name]; cached {
			c.mu.Unlock()
			return v, nil
		}
	}

	if c.resolving[name] {
		c.mu.Unlock()
		return nil, fmt.Errorf("service %q: %w", name, corerr.ErrCircularDependency)
	}
	c.resolving[name] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.resolving, name)
		c.mu.Unlock()
	}()

	instance, err := d.factory(c)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", name, err)
	}

	if d.scope == Singleton {
		c.mu.Lock()
		c.singletons[name] = instance
		c.mu.Unlock()
	}

	return instance, nil
}

// IsRegistered reports whether name has a descriptor.
func (c *Container) IsRegistered(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.descriptors[name]
	return ok
}

// ServiceInfo describes a registered service for inspection/tooling.
type ServiceInfo struct {
	Name  string
	Scope Scope
}

// AllServices lists every registered service and its scope.
func (c *Container) AllServices() []ServiceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServiceInfo, 0, len(c.descriptors))
	for name, d := range c.descriptors {
		out = append(out, ServiceInfo{Name: name, Scope: d.scope})
	}
	return out
}

// Clear removes every registration and cached singleton.
func (c *Container) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors = make(map[string]*descriptor)
	c.singletons = make(map[string]any)
	c.resolving = make(map[string]bool)
}
