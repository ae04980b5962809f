// Package domain declares the external billing gateway collaborator.
package domain

import (
	"context"
	"time"
)

// ReportKind selects the gateway-side write semantics for a usage report.
type ReportKind string

const (
	// ReportIncrement adds the delta to the gateway-side counter.
	ReportIncrement ReportKind = "increment"
	// ReportSet overwrites the gateway-side value.
	ReportSet ReportKind = "set"
)

// LineItem is a meterable line item on the gateway subscription.
type LineItem struct {
	ID         string
	MetricCode string
}

// UsageReport carries one usage delta to the gateway.
type UsageReport struct {
	SubscriptionRef string
	MetricCode      string
	Quantity        float64
	Kind            ReportKind
	RecordedAt      time.Time
}

// InvoiceDraft asks the gateway to open a draft invoice.
type InvoiceDraft struct {
	SubscriptionRef string
	Currency        string
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// InvoiceLine attaches one charge to a gateway invoice.
type InvoiceLine struct {
	InvoiceRef  string
	Description string
	Amount      float64
	Currency    string
}

// Gateway is the external billing provider. Every call may fail; callers
// decide whether the failure propagates.
type Gateway interface {
	ListLineItems(ctx context.Context, subscriptionRef string) ([]LineItem, error)
	ReportUsage(ctx context.Context, report UsageReport) error
	CreateInvoice(ctx context.Context, draft InvoiceDraft) (string, error)
	AddInvoiceLine(ctx context.Context, line InvoiceLine) error
}
