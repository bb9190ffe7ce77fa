package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fm-serve/internal/services"
	"fm-serve/internal/types"
)

type stubConfig struct {
	server types.ServerConfig
}

func (m *stubConfig) GetAuthConfig() types.AuthConfig         { return types.AuthConfig{} }
func (m *stubConfig) GetCORSConfig() types.CORSConfig         { return types.CORSConfig{} }
func (m *stubConfig) GetLogConfig() types.LogConfig           { return types.LogConfig{} }
func (m *stubConfig) GetDatabaseConfig() types.DatabaseConfig { return types.DatabaseConfig{} }
func (m *stubConfig) GetEffectiveServerConfig() types.ServerConfig {
	return m.server
}
func (m *stubConfig) GetGenerationConfig() types.GenerationConfig    { return types.GenerationConfig{} }
func (m *stubConfig) GetEngineConfigs() []types.EngineConfig         { return nil }
func (m *stubConfig) GetRemoteBackends() []types.RemoteBackendConfig { return nil }
func (m *stubConfig) ReloadConfig() error                            { return nil }
func (m *stubConfig) Validate() error                                { return nil }
func (m *stubConfig) DisplayServerConfig()                           {}

func newTestApp(cfg *stubConfig) *App {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	return NewApp(AppParams{
		Engine:            engine,
		ConfigManager:     cfg,
		RequestLogService: services.NewRequestLogService(nil, cfg),
	})
}

func TestNewApp(t *testing.T) {
	cfg := &stubConfig{}
	application := newTestApp(cfg)

	require.NotNil(t, application)
	assert.NotNil(t, application.engine)
	assert.Same(t, cfg, application.configManager.(*stubConfig))
	assert.Nil(t, application.db)
}

func TestAppStartStop(t *testing.T) {
	cfg := &stubConfig{server: types.ServerConfig{
		Host:                    "127.0.0.1",
		Port:                    0,
		ReadTimeout:             5,
		WriteTimeout:            5,
		IdleTimeout:             5,
		GracefulShutdownTimeout: 10,
	}}
	application := newTestApp(cfg)

	require.NoError(t, application.Start())
	require.NotNil(t, application.httpServer)

	// Give the listener goroutine a moment before shutting down.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NotPanics(t, func() { application.Stop(ctx) })
}

func TestAppStopWithoutStart(t *testing.T) {
	cfg := &stubConfig{server: types.ServerConfig{GracefulShutdownTimeout: 1}}
	application := newTestApp(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { application.Stop(ctx) })
}
