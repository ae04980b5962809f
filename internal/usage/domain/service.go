package domain

import (
	"context"
	"errors"
	"time"

	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordUsageRequest struct {
	MetricCode string         `json:"metric_code"`
	Quantity   float64        `json:"quantity"`
	RecordedAt time.Time      `json:"recorded_at"`
	Metadata   map[string]any `json:"metadata"`
}

type ListUsageRequest struct {
	MetricCode string `json:"metric_code"`
	PageToken  string `json:"page_token"`
	PageSize   int32  `json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Service interface {
	Record(context.Context, RecordUsageRequest) (*UsageRecord, error)
	RecordBatch(context.Context, []RecordUsageRequest) ([]*UsageRecord, error)
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)

	// Aggregated re-derives the period value from the raw records,
	// inclusive of both window bounds. Billing uses this, never the
	// running total.
	Aggregated(ctx context.Context, metricCode string, start, end time.Time, agg catalogdomain.Aggregation) (float64, error)

	// RunningTotal reads the fast-path cache for the caller's org.
	RunningTotal(ctx context.Context, metricCode string) (float64, error)

	// ResetMonthlyTotals zeroes the running totals of every metric with
	// a monthly reset period, within the caller's transaction.
	ResetMonthlyTotals(ctx context.Context, tx *gorm.DB, orgID int64) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrUnknownMetric       = errors.New("unknown_metric")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
)
