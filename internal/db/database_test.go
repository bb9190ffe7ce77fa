package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
)

// mockConfigManager implements types.ConfigManager for testing
type mockConfigManager struct {
	dsn      string
	logLevel string
}

func (m *mockConfigManager) GetAuthConfig() types.AuthConfig { return types.AuthConfig{} }
func (m *mockConfigManager) GetCORSConfig() types.CORSConfig { return types.CORSConfig{} }
func (m *mockConfigManager) GetLogConfig() types.LogConfig {
	return types.LogConfig{Level: m.logLevel}
}
func (m *mockConfigManager) GetDatabaseConfig() types.DatabaseConfig {
	return types.DatabaseConfig{DSN: m.dsn, LogRetentionDays: 7, LogWriteIntervalSecs: 60}
}
func (m *mockConfigManager) GetEffectiveServerConfig() types.ServerConfig {
	return types.ServerConfig{}
}
func (m *mockConfigManager) GetGenerationConfig() types.GenerationConfig {
	return types.GenerationConfig{}
}
func (m *mockConfigManager) GetEngineConfigs() []types.EngineConfig         { return nil }
func (m *mockConfigManager) GetRemoteBackends() []types.RemoteBackendConfig { return nil }
func (m *mockConfigManager) ReloadConfig() error                            { return nil }
func (m *mockConfigManager) Validate() error                                { return nil }
func (m *mockConfigManager) DisplayServerConfig()                           {}

func TestNewDBSQLite(t *testing.T) {
	config := &mockConfigManager{dsn: t.TempDir() + "/test.db", logLevel: "info"}

	gdb, err := NewDB(config)
	require.NoError(t, err)
	require.NotNil(t, gdb)

	assert.True(t, gdb.Migrator().HasTable(&models.RequestLog{}))

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	assert.NoError(t, sqlDB.Close())
}

func TestNewDBSQLiteFileURI(t *testing.T) {
	config := &mockConfigManager{dsn: "file:" + t.TempDir() + "/uri.db", logLevel: "info"}

	gdb, err := NewDB(config)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, sqlDB.Ping())
}

func TestNewDBEmptyDSN(t *testing.T) {
	_, err := NewDB(&mockConfigManager{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_DSN")
}

func TestNewDBRoundTrip(t *testing.T) {
	config := &mockConfigManager{dsn: t.TempDir() + "/trip.db", logLevel: "info"}
	gdb, err := NewDB(config)
	require.NoError(t, err)

	log := &models.RequestLog{
		ID: "log-1", Model: "foundation-default", Backend: "native",
		IsSuccess: true, StatusCode: 200, PromptTokens: 10, CompletionTokens: 5,
	}
	require.NoError(t, gdb.Create(log).Error)

	var got models.RequestLog
	require.NoError(t, gdb.First(&got, "id = ?", "log-1").Error)
	assert.Equal(t, "foundation-default", got.Model)
	assert.True(t, got.IsSuccess)
}
