// Package domain contains invoices and computed billing summaries.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "OPEN"
	InvoiceStatusPaid InvoiceStatus = "PAID"
	InvoiceStatusVoid InvoiceStatus = "VOID"
)

// Invoice is the locally persisted bill for one elapsed period. Gateway
// mirroring is best effort; GatewayRef stays empty when sync fails.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID  `gorm:"not null;index" json:"org_id"`
	SubscriptionID snowflake.ID  `gorm:"not null" json:"subscription_id"`
	PlanCode       string        `gorm:"type:text;not null" json:"plan_code"`
	Currency       string        `gorm:"type:text;not null" json:"currency"`
	Status         InvoiceStatus `gorm:"type:text;not null;default:OPEN" json:"status"`
	PeriodStart    time.Time     `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time     `gorm:"not null" json:"period_end"`
	DueDate        time.Time     `gorm:"not null" json:"due_date"`
	BaseFee        float64       `gorm:"not null" json:"base_fee"`
	TotalAmount    float64       `gorm:"not null" json:"total_amount"`
	GatewayRef     string        `gorm:"type:text" json:"gateway_ref,omitempty"`
	Lines          []InvoiceLine `gorm:"foreignKey:InvoiceID" json:"lines,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLine is one usage charge on an invoice.
type InvoiceLine struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	InvoiceID       snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	MetricCode      string       `gorm:"type:text;not null" json:"metric_code"`
	Description     string       `gorm:"type:text" json:"description"`
	OverageQuantity float64      `gorm:"not null" json:"overage_quantity"`
	Amount          float64      `gorm:"not null" json:"amount"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceLine) TableName() string { return "invoice_lines" }

// UsageSummary is one computed row per plan metric.
type UsageSummary struct {
	MetricCode       string  `json:"metric_code"`
	MetricName       string  `json:"metric_name"`
	Unit             string  `json:"unit"`
	CurrentUsage     float64 `json:"current_usage"`
	IncludedQuantity float64 `json:"included_quantity"`
	OverageQuantity  float64 `json:"overage_quantity"`
	OverageCost      float64 `json:"overage_cost"`
}

// BillEstimate is the current bill plus a naive linear projection to
// period end.
type BillEstimate struct {
	PlanCode          string         `json:"plan_code"`
	Currency          string         `json:"currency"`
	PeriodStart       time.Time      `json:"period_start"`
	PeriodEnd         time.Time      `json:"period_end"`
	BaseFee           float64        `json:"base_fee"`
	UsageCharges      float64        `json:"usage_charges"`
	Total             float64        `json:"total"`
	ProjectionFactor  float64        `json:"projection_factor"`
	ProjectedMonthEnd float64        `json:"projected_month_end"`
	Summaries         []UsageSummary `json:"summaries"`
}

type ListInvoicesRequest struct {
	PageToken string `json:"page_token"`
	PageSize  int32  `json:"page_size"`
}

type ListInvoicesResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	CurrentUsage(ctx context.Context) ([]UsageSummary, error)
	CalculateCurrentBill(ctx context.Context) (*BillEstimate, error)

	// GenerateInvoice bills the elapsed period ending at periodEnd for
	// one org. When tx is non-nil the invoice rows join the caller's
	// transaction and gateway mirroring is skipped; the caller mirrors
	// after commit via SyncInvoice.
	GenerateInvoice(ctx context.Context, orgID snowflake.ID, periodEnd time.Time, tx *gorm.DB) (*Invoice, error)

	// SyncInvoice mirrors a committed invoice to the gateway, best
	// effort. Invoices that already carry a gateway ref are skipped.
	SyncInvoice(ctx context.Context, invoiceID snowflake.ID) error

	Invoices(ctx context.Context, req ListInvoicesRequest) (ListInvoicesResponse, error)
	GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*Invoice, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
)
