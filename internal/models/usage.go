package models

import (
	"time"

	"github.com/google/uuid"
)

// One row per analysis or proxied provider call
type UsageRecord struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time  `gorm:"index" json:"timestamp"`
	TenantID      string     `gorm:"index;not null" json:"tenant_id"`
	APIKeyID      *uuid.UUID `gorm:"type:uuid;index" json:"api_key_id,omitempty"`
	Tier          Tier       `gorm:"type:varchar(16)" json:"tier"`
	Endpoint      string     `gorm:"index" json:"endpoint"`
	IndicatorType string     `json:"indicator_type,omitempty"`
	StatusCode    int        `gorm:"index" json:"status_code"`
	Success       bool       `json:"success"`
	ErrorCode     string     `json:"error_code,omitempty"`
	ProcessingMs  int        `json:"processing_ms"`
	CacheHit      bool       `json:"cache_hit"`
	SourcesUsed   string     `json:"sources_used,omitempty"` // comma separated
	IPAddress     string     `json:"ip_address"`
}

func (UsageRecord) TableName() string {
	return "usage_records"
}

