package service

import (
	"context"

	"github.com/smallbiznis/meterline/internal/circuitbreaker"
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Circuit names for the gateway operations. Usage reporting and invoice
// sync fail independently, so they trip independently.
const (
	CircuitUsageReporting = "gateway.report_usage"
	CircuitInvoiceSync    = "gateway.invoice_sync"
)

type GuardedParam struct {
	fx.In

	Log      *zap.Logger
	Registry *circuitbreaker.Registry
	Inner    gatewaydomain.Gateway `name:"gateway.inner"`
}

// GuardedGateway wraps every gateway call in a circuit breaker so a
// provider outage cannot cascade into the write path.
type GuardedGateway struct {
	log      *zap.Logger
	registry *circuitbreaker.Registry
	inner    gatewaydomain.Gateway
}

func NewGuardedGateway(p GuardedParam) gatewaydomain.Gateway {
	return &GuardedGateway{
		log:      p.Log.Named("gateway.guarded"),
		registry: p.Registry,
		inner:    p.Inner,
	}
}

func (g *GuardedGateway) ListLineItems(ctx context.Context, subscriptionRef string) ([]gatewaydomain.LineItem, error) {
	return circuitbreaker.Do(ctx, g.registry, CircuitUsageReporting, func(ctx context.Context) ([]gatewaydomain.LineItem, error) {
		return g.inner.ListLineItems(ctx, subscriptionRef)
	})
}

func (g *GuardedGateway) ReportUsage(ctx context.Context, report gatewaydomain.UsageReport) error {
	return g.registry.Execute(ctx, CircuitUsageReporting, func(ctx context.Context) error {
		return g.inner.ReportUsage(ctx, report)
	})
}

func (g *GuardedGateway) CreateInvoice(ctx context.Context, draft gatewaydomain.InvoiceDraft) (string, error) {
	return circuitbreaker.Do(ctx, g.registry, CircuitInvoiceSync, func(ctx context.Context) (string, error) {
		return g.inner.CreateInvoice(ctx, draft)
	})
}

func (g *GuardedGateway) AddInvoiceLine(ctx context.Context, line gatewaydomain.InvoiceLine) error {
	return g.registry.Execute(ctx, CircuitInvoiceSync, func(ctx context.Context) error {
		return g.inner.AddInvoiceLine(ctx, line)
	})
}
