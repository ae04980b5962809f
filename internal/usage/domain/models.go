// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageRecord stores a single immutable unit of metered activity. It is
// the billing source of truth; totals are re-derived from it.
type UsageRecord struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;index:idx_usage_records_org_metric" json:"org_id"`
	MetricCode string            `gorm:"type:text;not null;index:idx_usage_records_org_metric" json:"metric_code"`
	Quantity   float64           `gorm:"not null" json:"quantity"`
	RecordedAt time.Time         `gorm:"not null;index" json:"recorded_at"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageTotal is the running aggregate for one (org, metric) pair. It is
// a fast-path cache for alerting, not billing-accurate.
type UsageTotal struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;uniqueIndex:idx_usage_totals_org_metric" json:"org_id"`
	MetricCode string       `gorm:"type:text;not null;uniqueIndex:idx_usage_totals_org_metric" json:"metric_code"`
	Total      float64      `gorm:"not null;default:0" json:"total"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageTotal) TableName() string { return "usage_totals" }
