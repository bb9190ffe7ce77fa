// Package container wires the application dependencies together.
package container

import (
	"go.uber.org/dig"
	"gorm.io/gorm"

	"fm-serve/internal/app"
	"fm-serve/internal/backend"
	"fm-serve/internal/config"
	"fm-serve/internal/db"
	"fm-serve/internal/gateway"
	"fm-serve/internal/handler"
	"fm-serve/internal/promptcache"
	"fm-serve/internal/router"
	"fm-serve/internal/services"
	"fm-serve/internal/types"
)

// BuildContainer creates the dig container with all application providers.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		config.NewManager,
		provideDB,
		provideRegistry,
		provideGateway,
		promptcache.New,
		provideLogService,
		handler.NewServer,
		router.NewRouter,
		app.NewApp,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

// provideDB opens the request-log database. An empty DSN disables request
// logging, so the handler receives a nil database.
func provideDB(configManager types.ConfigManager) (*gorm.DB, error) {
	if configManager.GetDatabaseConfig().DSN == "" {
		return nil, nil
	}
	return db.NewDB(configManager)
}

func provideRegistry(configManager types.ConfigManager) (*backend.Registry, error) {
	return backend.NewRegistry(configManager.GetEngineConfigs())
}

func provideGateway(configManager types.ConfigManager, registry *backend.Registry) *gateway.Gateway {
	return gateway.New(registry, configManager.GetRemoteBackends())
}

func provideLogService(database *gorm.DB, configManager types.ConfigManager) *services.RequestLogService {
	return services.NewRequestLogService(database, configManager)
}
