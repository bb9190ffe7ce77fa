package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"fm-serve/internal/handler"
	"fm-serve/internal/types"
)

type stubConfig struct{}

func (m *stubConfig) GetAuthConfig() types.AuthConfig             { return types.AuthConfig{} }
func (m *stubConfig) GetCORSConfig() types.CORSConfig             { return types.CORSConfig{} }
func (m *stubConfig) GetLogConfig() types.LogConfig               { return types.LogConfig{} }
func (m *stubConfig) GetDatabaseConfig() types.DatabaseConfig     { return types.DatabaseConfig{} }
func (m *stubConfig) GetEffectiveServerConfig() types.ServerConfig {
	return types.ServerConfig{}
}
func (m *stubConfig) GetGenerationConfig() types.GenerationConfig { return types.GenerationConfig{} }
func (m *stubConfig) GetEngineConfigs() []types.EngineConfig      { return nil }
func (m *stubConfig) GetRemoteBackends() []types.RemoteBackendConfig {
	return nil
}
func (m *stubConfig) ReloadConfig() error      { return nil }
func (m *stubConfig) Validate() error          { return nil }
func (m *stubConfig) DisplayServerConfig()     {}

func TestRegisterSystemRoutes(t *testing.T) {
	t.Parallel()

	router := gin.New()
	registerSystemRoutes(router, &handler.Server{})

	routes := router.Routes()
	healthFound := false
	propsFound := false
	for _, route := range routes {
		if route.Path == "/health" && route.Method == "GET" {
			healthFound = true
		}
		if route.Path == "/props" && route.Method == "GET" {
			propsFound = true
		}
	}
	assert.True(t, healthFound, "health endpoint should be registered")
	assert.True(t, propsFound, "props endpoint should be registered")
}

func TestRegisterAPIRoutes(t *testing.T) {
	t.Parallel()

	router := gin.New()
	registerAPIRoutes(router, &handler.Server{}, &stubConfig{})

	routes := router.Routes()
	modelsFound := false
	completionsFound := false
	for _, route := range routes {
		if route.Path == "/v1/models" && route.Method == "GET" {
			modelsFound = true
		}
		if route.Path == "/v1/chat/completions" && route.Method == "POST" {
			completionsFound = true
		}
	}
	assert.True(t, modelsFound, "models endpoint should be registered")
	assert.True(t, completionsFound, "chat completions endpoint should be registered")
}

func TestNoRouteReturnsJSON(t *testing.T) {
	t.Parallel()

	router := NewRouter(&handler.Server{}, &stubConfig{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/no/such/path", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	t.Parallel()

	cfg := &authedConfig{}
	router := NewRouter(&handler.Server{}, cfg)

	// /v1 routes reject requests without the configured key.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/models", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type authedConfig struct{ stubConfig }

func (m *authedConfig) GetAuthConfig() types.AuthConfig {
	return types.AuthConfig{Key: "secret"}
}
