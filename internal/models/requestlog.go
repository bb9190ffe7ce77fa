package models

import "time"

// RequestLog is one persisted request record.
type RequestLog struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp        time.Time `gorm:"not null;index:idx_request_logs_timestamp" json:"timestamp"`
	Model            string    `gorm:"type:varchar(255);index" json:"model"`
	Backend          string    `gorm:"type:varchar(64);index" json:"backend"`
	IsSuccess        bool      `gorm:"not null" json:"is_success"`
	StatusCode       int       `gorm:"not null" json:"status_code"`
	IsStream         bool      `gorm:"not null" json:"is_stream"`
	FinishReason     string    `gorm:"type:varchar(32)" json:"finish_reason"`
	PromptTokens     int       `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int       `gorm:"not null;default:0" json:"completion_tokens"`
	CachedTokens     int       `gorm:"not null;default:0" json:"cached_tokens"`
	Duration         int64     `gorm:"not null" json:"duration_ms"`
	SourceIP         string    `gorm:"type:varchar(64)" json:"source_ip"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message"`
}

// TableName overrides the gorm table name.
func (RequestLog) TableName() string {
	return "request_logs"
}
