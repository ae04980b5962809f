package service

import (
	"context"
	"fmt"
	"time"

	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"go.uber.org/zap"
)

// NoopGateway logs every call and succeeds. It stands in when no real
// billing provider is configured.
type NoopGateway struct {
	log *zap.Logger
}

func NewNoopGateway(log *zap.Logger) *NoopGateway {
	return &NoopGateway{log: log.Named("gateway.noop")}
}

func (g *NoopGateway) ListLineItems(ctx context.Context, subscriptionRef string) ([]gatewaydomain.LineItem, error) {
	g.log.Debug("list line items", zap.String("subscription_ref", subscriptionRef))
	return nil, nil
}

func (g *NoopGateway) ReportUsage(ctx context.Context, report gatewaydomain.UsageReport) error {
	g.log.Debug("report usage",
		zap.String("subscription_ref", report.SubscriptionRef),
		zap.String("metric", report.MetricCode),
		zap.String("kind", string(report.Kind)),
		zap.Float64("quantity", report.Quantity),
	)
	return nil
}

func (g *NoopGateway) CreateInvoice(ctx context.Context, draft gatewaydomain.InvoiceDraft) (string, error) {
	g.log.Debug("create invoice",
		zap.String("subscription_ref", draft.SubscriptionRef),
		zap.Time("period_end", draft.PeriodEnd),
	)
	return fmt.Sprintf("noop-inv-%d", time.Now().UnixNano()), nil
}

func (g *NoopGateway) AddInvoiceLine(ctx context.Context, line gatewaydomain.InvoiceLine) error {
	g.log.Debug("add invoice line",
		zap.String("invoice_ref", line.InvoiceRef),
		zap.String("description", line.Description),
		zap.Float64("amount", line.Amount),
	)
	return nil
}
