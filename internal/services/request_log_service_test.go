package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
)

type stubConfigManager struct {
	dbConfig types.DatabaseConfig
}

func (m *stubConfigManager) GetAuthConfig() types.AuthConfig                 { return types.AuthConfig{} }
func (m *stubConfigManager) GetCORSConfig() types.CORSConfig                 { return types.CORSConfig{} }
func (m *stubConfigManager) GetLogConfig() types.LogConfig                   { return types.LogConfig{} }
func (m *stubConfigManager) GetDatabaseConfig() types.DatabaseConfig         { return m.dbConfig }
func (m *stubConfigManager) GetEffectiveServerConfig() types.ServerConfig    { return types.ServerConfig{} }
func (m *stubConfigManager) GetGenerationConfig() types.GenerationConfig     { return types.GenerationConfig{} }
func (m *stubConfigManager) GetEngineConfigs() []types.EngineConfig          { return nil }
func (m *stubConfigManager) GetRemoteBackends() []types.RemoteBackendConfig  { return nil }
func (m *stubConfigManager) ReloadConfig() error                             { return nil }
func (m *stubConfigManager) Validate() error                                 { return nil }
func (m *stubConfigManager) DisplayServerConfig()                            {}

// setupLogTest creates a unique in-memory database per test.
func setupLogTest(t *testing.T, intervalSecs int) (*RequestLogService, *gorm.DB) {
	t.Helper()
	testName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", testName, time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{PrepareStmt: false})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(&models.RequestLog{}))

	cm := &stubConfigManager{dbConfig: types.DatabaseConfig{
		DSN: dsn, LogRetentionDays: 7, LogWriteIntervalSecs: intervalSecs,
	}}
	return NewRequestLogService(gdb, cm), gdb
}

func countLogs(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, gdb.Model(&models.RequestLog{}).Count(&count).Error)
	return count
}

func TestRecordBuffersUntilFlush(t *testing.T) {
	service, gdb := setupLogTest(t, 60)

	service.Record(&models.RequestLog{Model: "foundation-default", Backend: "native", IsSuccess: true})
	service.Record(&models.RequestLog{Model: "foundation-default", Backend: "native", IsSuccess: false, ErrorMessage: "boom"})
	assert.Zero(t, countLogs(t, gdb), "records stay buffered until the flush")

	service.Flush()
	assert.Equal(t, int64(2), countLogs(t, gdb))

	var failed models.RequestLog
	require.NoError(t, gdb.First(&failed, "is_success = ?", false).Error)
	assert.Equal(t, "boom", failed.ErrorMessage)
	assert.NotEmpty(t, failed.ID)
	assert.False(t, failed.Timestamp.IsZero())
}

func TestRecordSyncMode(t *testing.T) {
	service, gdb := setupLogTest(t, 0)
	service.Record(&models.RequestLog{Model: "m", Backend: "native"})
	assert.Equal(t, int64(1), countLogs(t, gdb), "zero interval writes immediately")
}

func TestStopFlushesPending(t *testing.T) {
	service, gdb := setupLogTest(t, 3600)
	service.Start()
	service.Record(&models.RequestLog{Model: "m", Backend: "native"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	service.Stop(ctx)
	assert.Equal(t, int64(1), countLogs(t, gdb))
}

func TestNilDatabaseIsNoop(t *testing.T) {
	cm := &stubConfigManager{dbConfig: types.DatabaseConfig{LogWriteIntervalSecs: 60}}
	service := NewRequestLogService(nil, cm)
	service.Start()
	service.Record(&models.RequestLog{Model: "m"})
	service.Flush()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	service.Stop(ctx)
}

func TestCleanupExpiredLogs(t *testing.T) {
	service, gdb := setupLogTest(t, 60)

	old := &models.RequestLog{ID: "old", Model: "m", Backend: "native", Timestamp: time.Now().AddDate(0, 0, -30)}
	fresh := &models.RequestLog{ID: "fresh", Model: "m", Backend: "native", Timestamp: time.Now()}
	require.NoError(t, gdb.Create(old).Error)
	require.NoError(t, gdb.Create(fresh).Error)

	service.cleanupExpiredLogs()

	assert.Equal(t, int64(1), countLogs(t, gdb))
	var got models.RequestLog
	require.NoError(t, gdb.First(&got).Error)
	assert.Equal(t, "fresh", got.ID)
}

func TestCleanupDisabled(t *testing.T) {
	service, gdb := setupLogTest(t, 60)
	service.retentionDays = 0

	old := &models.RequestLog{ID: "old", Model: "m", Backend: "native", Timestamp: time.Now().AddDate(0, 0, -30)}
	require.NoError(t, gdb.Create(old).Error)

	service.cleanupExpiredLogs()
	assert.Equal(t, int64(1), countLogs(t, gdb))
}
