// Package domain contains usage alert definitions and evaluation.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ThresholdType selects how an alert threshold is interpreted.
type ThresholdType string

const (
	// ThresholdAbsolute fires once the running total reaches the threshold.
	ThresholdAbsolute ThresholdType = "absolute"
	// ThresholdPercentage fires once usage reaches the given percentage
	// of the plan's included quantity.
	ThresholdPercentage ThresholdType = "percentage"
)

// DebounceWindow is the minimum time between two firings of one alert.
const DebounceWindow = 24 * time.Hour

// UsageAlert is a per-(org, metric) threshold watched on ingestion.
type UsageAlert struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID  `gorm:"not null;uniqueIndex:idx_usage_alerts_key" json:"org_id"`
	MetricCode      string        `gorm:"type:text;not null;uniqueIndex:idx_usage_alerts_key" json:"metric_code"`
	ThresholdType   ThresholdType `gorm:"type:text;not null;uniqueIndex:idx_usage_alerts_key" json:"threshold_type"`
	Threshold       float64       `gorm:"not null" json:"threshold"`
	Enabled         bool          `gorm:"not null;default:true" json:"enabled"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageAlert) TableName() string { return "usage_alerts" }

type SetAlertRequest struct {
	MetricCode    string        `json:"metric_code"`
	ThresholdType ThresholdType `json:"threshold_type"`
	Threshold     float64       `json:"threshold"`
	Enabled       bool          `json:"enabled"`
}

type Service interface {
	// Set creates or updates the alert identified by (org, metric, type).
	Set(context.Context, SetAlertRequest) (*UsageAlert, error)
	List(context.Context) ([]UsageAlert, error)

	// Check evaluates enabled alerts for the caller's org and metric
	// against the running total. Approximate by design.
	Check(ctx context.Context, metricCode string) error
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidMetric        = errors.New("invalid_metric")
	ErrInvalidThreshold     = errors.New("invalid_threshold")
	ErrInvalidThresholdType = errors.New("invalid_threshold_type")
)
