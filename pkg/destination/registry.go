// Package destination defines the push-mode sink capability a flow drives
// and the factory registry that turns a TargetConfig into a live
// Destination.
package destination

import (
	"fmt"
	"sync"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

// Factory builds a Destination from a flow's target configuration.
type Factory interface {
	CreateDestination(cfg config.TargetConfig) (model.Destination, error)
	ValidateConfig(cfg config.TargetConfig) error
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(cfg config.TargetConfig) (model.Destination, error)

func (f FactoryFunc) CreateDestination(cfg config.TargetConfig) (model.Destination, error) {
	return f(cfg)
}

func (f FactoryFunc) ValidateConfig(cfg config.TargetConfig) error {
	if cfg.Type == "" {
		return fmt.Errorf("destination: target type is required")
	}
	return nil
}

// Registry maps a target type name to the factory that builds it.
type Registry struct {
	mu        sync.RWMutex
	factories map[config.TargetType]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[config.TargetType]Factory)}
}

// Register adds factory under targetType, replacing any prior registration.
func (r *Registry) Register(targetType config.TargetType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[targetType] = factory
}

// Unregister removes a factory registration.
func (r *Registry) Unregister(targetType config.TargetType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, targetType)
}

// Types returns every registered target type.
func (r *Registry) Types() []config.TargetType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]config.TargetType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Build looks up the factory for cfg.Type, validates cfg, and constructs a
// Destination.
func (r *Registry) Build(cfg config.TargetConfig) (model.Destination, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("destination: no factory registered for target type %q", cfg.Type)
	}
	if err := factory.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("destination: invalid config for %q: %w", cfg.Type, err)
	}
	return factory.CreateDestination(cfg)
}

// Default is the process-wide registry populated by each destination
// subpackage's init.
var Default = NewRegistry()
