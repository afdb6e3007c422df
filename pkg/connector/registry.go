// Package connector defines the pull-mode source capability a flow drives
// and the factory registry that turns a SourceConfig into a live Connector.
package connector

import (
	"fmt"
	"sync"

	"github.com/cdcsink/cdcsink/pkg/config"
	"github.com/cdcsink/cdcsink/pkg/model"
)

// Factory builds a Connector from a flow's source configuration.
type Factory interface {
	CreateConnector(cfg config.SourceConfig) (model.Connector, error)
	ValidateConfig(cfg config.SourceConfig) error
}

// FactoryFunc adapts a plain function to Factory, mirroring the teacher's
// DefaultStreamFactory but without the redundant GetSupportedTypes method —
// the registry already keys factories by type.
type FactoryFunc func(cfg config.SourceConfig) (model.Connector, error)

func (f FactoryFunc) CreateConnector(cfg config.SourceConfig) (model.Connector, error) {
	return f(cfg)
}

func (f FactoryFunc) ValidateConfig(cfg config.SourceConfig) error {
	if cfg.Type == "" {
		return fmt.Errorf("connector: source type is required")
	}
	return nil
}

// Registry maps a source type name to the factory that builds it.
type Registry struct {
	mu        sync.RWMutex
	factories map[config.SourceType]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[config.SourceType]Factory)}
}

// Register adds factory under sourceType, replacing any prior registration.
func (r *Registry) Register(sourceType config.SourceType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[sourceType] = factory
}

// Unregister removes a factory registration.
func (r *Registry) Unregister(sourceType config.SourceType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, sourceType)
}

// Types returns every registered source type.
func (r *Registry) Types() []config.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]config.SourceType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// Build looks up the factory for cfg.Type, validates cfg, and constructs a
// Connector.
func (r *Registry) Build(cfg config.SourceConfig) (model.Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: no factory registered for source type %q", cfg.Type)
	}
	if err := factory.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("connector: invalid config for %q: %w", cfg.Type, err)
	}
	return factory.CreateConnector(cfg)
}

// Default is the process-wide registry populated by each connector
// subpackage's init, mirroring the teacher's single global EndpointManagment.
var Default = NewRegistry()
