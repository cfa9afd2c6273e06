package main

import (
	"context"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// startConfigWatcher reloads the gateway whenever the configuration
// file changes. A watcher that fails to start is logged and skipped;
// the gateway keeps serving its current configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath,
		reloadCallback(app, logger),
		config.WithLogger(logger),
		config.WithErrorCallback(func(err error) {
			app.metrics.RecordConfigReload(false)
			logger.Error("configuration change rejected", observability.Error(err))
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// reloadCallback applies a changed configuration to the gateway.
func reloadCallback(app *application, logger observability.Logger) config.ConfigCallback {
	return func(cfg *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		if err := app.gateway.Reload(cfg); err != nil {
			logger.Error("failed to reload configuration", observability.Error(err))
		}
	}
}
