// Package services holds the background services of the server.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
	"fm-serve/internal/utils"
)

const (
	logFlushBatchSize  = 200
	cleanupInterval    = 2 * time.Hour
	cleanupDeleteBatch = 1000
)

// RequestLogService buffers request logs in memory and writes them in
// batches. It also owns retention cleanup. With no database configured the
// service is a no-op.
type RequestLogService struct {
	db            *gorm.DB
	retentionDays int
	interval      time.Duration

	mu      sync.Mutex
	pending []*models.RequestLog

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRequestLogService(db *gorm.DB, configManager types.ConfigManager) *RequestLogService {
	dbConfig := configManager.GetDatabaseConfig()
	return &RequestLogService{
		db:            db,
		retentionDays: dbConfig.LogRetentionDays,
		interval:      time.Duration(dbConfig.LogWriteIntervalSecs) * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// Record queues one request log. With a zero write interval the log goes to
// the database immediately.
func (s *RequestLogService) Record(log *models.RequestLog) {
	if s.db == nil {
		return
	}
	log.ID = uuid.NewString()
	log.Timestamp = time.Now()
	log.ErrorMessage = utils.TruncateString(log.ErrorMessage, 2048)

	if s.interval <= 0 {
		s.write([]*models.RequestLog{log})
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, log)
	shouldFlush := len(s.pending) >= logFlushBatchSize
	s.mu.Unlock()

	if shouldFlush {
		s.Flush()
	}
}

// Start launches the periodic flush and cleanup loops.
func (s *RequestLogService) Start() {
	if s.db == nil {
		logrus.Debug("Request log service disabled, no database configured")
		return
	}
	s.wg.Add(2)
	go s.flushLoop()
	go s.cleanupLoop()
}

// Stop flushes what is pending and waits for the loops to end.
func (s *RequestLogService) Stop(ctx context.Context) {
	if s.db == nil {
		return
	}
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.Flush()
		logrus.Info("Request log service stopped gracefully")
	case <-ctx.Done():
		logrus.Warn("Request log service stop timed out")
	}
}

func (s *RequestLogService) flushLoop() {
	defer s.wg.Done()
	interval := s.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stopChan:
			return
		}
	}
}

// Flush writes every pending log to the database.
func (s *RequestLogService) Flush() {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	s.write(batch)
}

func (s *RequestLogService) write(batch []*models.RequestLog) {
	if err := s.db.CreateInBatches(batch, logFlushBatchSize).Error; err != nil {
		logrus.WithFields(logrus.Fields{"count": len(batch), "error": err}).Error("Failed to write request logs")
		return
	}
	logrus.WithField("count", len(batch)).Debug("Flushed request logs")
}

func (s *RequestLogService) cleanupLoop() {
	defer s.wg.Done()

	s.cleanupExpiredLogs()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpiredLogs()
		case <-s.stopChan:
			return
		}
	}
}

// cleanupExpiredLogs deletes logs older than the retention window in batches
// so the timestamp index does the work.
func (s *RequestLogService) cleanupExpiredLogs() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC()
	dialect := s.db.Dialector.Name()

	total := int64(0)
	for {
		var result *gorm.DB
		switch dialect {
		case "postgres":
			// PostgreSQL has no LIMIT in DELETE.
			result = s.db.Exec(`
				WITH c AS (
					SELECT id FROM request_logs WHERE timestamp < ? ORDER BY timestamp LIMIT ?
				)
				DELETE FROM request_logs WHERE id IN (SELECT id FROM c)
			`, cutoff, cleanupDeleteBatch)
		case "mysql":
			result = s.db.Exec(
				"DELETE FROM request_logs WHERE timestamp < ? ORDER BY timestamp LIMIT ?",
				cutoff, cleanupDeleteBatch,
			)
		case "sqlite":
			result = s.db.Exec(
				"DELETE FROM request_logs WHERE rowid IN (SELECT rowid FROM request_logs WHERE timestamp < ? LIMIT ?)",
				cutoff, cleanupDeleteBatch,
			)
		default:
			result = s.db.Where("timestamp < ?", cutoff).Limit(cleanupDeleteBatch).Delete(&models.RequestLog{})
		}
		if result.Error != nil {
			logrus.WithField("error", result.Error).Error("Failed to clean up request logs")
			return
		}
		total += result.RowsAffected
		if result.RowsAffected < int64(cleanupDeleteBatch) {
			break
		}
	}
	if total > 0 {
		logrus.WithFields(logrus.Fields{"count": total, "cutoff": cutoff.Format(time.RFC3339)}).Info("Cleaned up expired request logs")
	}
}
