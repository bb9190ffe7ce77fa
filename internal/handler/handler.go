// Package handler implements the HTTP endpoints of the server.
package handler

import (
	"time"

	"go.uber.org/dig"
	"gorm.io/gorm"

	"fm-serve/internal/gateway"
	"fm-serve/internal/promptcache"
	"fm-serve/internal/services"
	"fm-serve/internal/types"
)

// Server bundles the handler dependencies.
type Server struct {
	DB          *gorm.DB
	config      types.ConfigManager
	gateway     *gateway.Gateway
	promptCache *promptcache.Cache
	logService  *services.RequestLogService
	startTime   time.Time
}

// ServerParams defines the dependencies for the handler server.
type ServerParams struct {
	dig.In
	DB            *gorm.DB `optional:"true"`
	ConfigManager types.ConfigManager
	Gateway       *gateway.Gateway
	PromptCache   *promptcache.Cache
	LogService    *services.RequestLogService
}

// NewServer creates a new handler server.
func NewServer(params ServerParams) *Server {
	return &Server{
		DB:          params.DB,
		config:      params.ConfigManager,
		gateway:     params.Gateway,
		promptCache: params.PromptCache,
		logService:  params.LogService,
		startTime:   time.Now(),
	}
}
