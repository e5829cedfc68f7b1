// Package registry maps step types to their handler factories, including
// handlers loaded from plugins.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"

	"github.com/orchon/orchon/pkg/models"
	"github.com/orchon/orchon/pkg/protocol"
)

// Registry resolves step types to handler factories.
type Registry struct {
	logger    *slog.Logger
	factories map[models.StepType]protocol.StepHandlerFactory
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[models.StepType]protocol.StepHandlerFactory),
	}
}

// Register adds a handler factory, replacing any previous registration for
// the same step type.
func (r *Registry) Register(factory protocol.StepHandlerFactory) {
	r.factories[factory.Type()] = factory
}

// Registered reports whether a step type has a handler factory.
func (r *Registry) Registered(stepType models.StepType) bool {
	_, ok := r.factories[stepType]

	return ok
}

// Schema returns the config schema for a step type, or nil when the type is
// unregistered or schema-less.
func (r *Registry) Schema(stepType models.StepType) map[string]any {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil
	}

	return factory.Schema()
}

// CreateHandler builds a handler for the step type.
func (r *Registry) CreateHandler(ctx context.Context, stepType models.StepType) (protocol.StepHandler, error) {
	factory, ok := r.factories[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q not registered", stepType)
	}

	return factory.Create(ctx)
}

// LoadHandlerPlugins loads step handler factories from .so files under
// <pluginsPath>/steps. Each plugin must export a StepHandlerFactory symbol
// named "StepHandler". Custom step types ship this way.
func (r *Registry) LoadHandlerPlugins(ctx context.Context, pluginsPath string) ([]protocol.StepHandlerFactory, error) {
	rootPath := pluginsPath + "/steps"
	root := os.DirFS(rootPath)

	pluginPaths, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(slog.String("path", rootPath))
	logger.InfoContext(ctx, "Loading step handler plugins", "count", len(pluginPaths))

	factories := make([]protocol.StepHandlerFactory, 0, len(pluginPaths))

	for _, p := range pluginPaths {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup("StepHandler")
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no StepHandler symbol: %w", p, err)
		}

		factory, ok := symbol.(protocol.StepHandlerFactory)
		if !ok {
			return nil, fmt.Errorf("plugin %s StepHandler is not a StepHandlerFactory", p)
		}

		factories = append(factories, factory)

		logger.InfoContext(ctx, "Loaded step handler plugin", slog.String("plugin", p))
	}

	return factories, nil
}
