// Package cmd provides common initialization for command-line entry points:
// registry assembly, persistence, event bus and work queue selection.
package cmd

import (
	"context"
	"log/slog"

	"github.com/orchon/orchon/pkg/eventbus"
	"github.com/orchon/orchon/pkg/registry"
	"github.com/orchon/orchon/pkg/steps/automated"
	"github.com/orchon/orchon/pkg/steps/condition"
	"github.com/orchon/orchon/pkg/steps/humantask"
	"github.com/orchon/orchon/pkg/steps/integration"
	"github.com/orchon/orchon/pkg/steps/loop"
	"github.com/orchon/orchon/pkg/steps/notification"
	"github.com/orchon/orchon/pkg/steps/parallel"
	"github.com/orchon/orchon/pkg/steps/transform"
)

func registerHandlerPlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) {
	factories, err := reg.LoadHandlerPlugins(ctx, pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, factory := range factories {
		reg.Register(factory)
	}
}

func registerNativeHandlers(reg *registry.Registry, bus eventbus.EventPublisher) {
	reg.Register(automated.NewFactory(nil))
	reg.Register(integration.NewFactory(nil))
	reg.Register(transform.NewFactory(nil))
	reg.Register(humantask.NewManualFactory())
	reg.Register(humantask.NewApprovalFactory())
	reg.Register(condition.NewFactory())
	reg.Register(parallel.NewFactory())
	reg.Register(loop.NewFactory())

	var notifier notification.Notifier
	if bus != nil {
		notifier = notification.NewEventBusNotifier(bus)
	}

	reg.Register(notification.NewFactory(notifier))
}

// NewRegistry assembles the step handler registry: native handlers first,
// then plugin handlers, which may override natives for custom deployments.
func NewRegistry(ctx context.Context, logger *slog.Logger, bus eventbus.EventPublisher, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeHandlers(reg, bus)

	if pluginsPath != "" {
		registerHandlerPlugins(ctx, reg, pluginsPath)
	}

	return reg
}
