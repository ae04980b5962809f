package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"github.com/smallbiznis/meterline/internal/observability"
	"github.com/smallbiznis/meterline/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/pkg/db/option"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	CatalogSvc catalogdomain.Service
	SubSvc     subscriptiondomain.Service
	UsageSvc   usagedomain.Service
	Gateway    gatewaydomain.Gateway  `optional:"true"`
	Metrics    *observability.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	catalog  catalogdomain.Service
	subSvc   subscriptiondomain.Service
	usageSvc usagedomain.Service
	gateway  gatewaydomain.Gateway
	metrics  *observability.Metrics

	invoiceRepo repository.Repository[billingdomain.Invoice]
	lineRepo    repository.Repository[billingdomain.InvoiceLine]
	subRepo     repository.Repository[subscriptiondomain.Subscription]
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		catalog:  p.CatalogSvc,
		subSvc:   p.SubSvc,
		usageSvc: p.UsageSvc,
		gateway:  p.Gateway,
		metrics:  p.Metrics,

		invoiceRepo: repository.ProvideStore[billingdomain.Invoice](p.DB),
		lineRepo:    repository.ProvideStore[billingdomain.InvoiceLine](p.DB),
		subRepo:     repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
	}
}

func (s *Service) CurrentUsage(ctx context.Context) ([]billingdomain.UsageSummary, error) {
	sub, plan, err := s.resolveActivePlan(ctx)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, plan, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
}

func (s *Service) CalculateCurrentBill(ctx context.Context) (*billingdomain.BillEstimate, error) {
	sub, plan, err := s.resolveActivePlan(ctx)
	if err != nil {
		return nil, err
	}

	summaries, err := s.summarize(ctx, plan, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	charges := decimal.Zero
	for _, summary := range summaries {
		charges = charges.Add(decimal.NewFromFloat(summary.OverageCost))
	}
	baseFee := decimal.NewFromFloat(plan.BaseFee)

	// naive linear extrapolation to period end, not a forecast
	totalDays := sub.CurrentPeriodEnd.Sub(sub.CurrentPeriodStart).Hours() / 24
	daysElapsed := s.clock.Now().Sub(sub.CurrentPeriodStart).Hours() / 24
	if daysElapsed < 1 {
		daysElapsed = 1
	}
	factor := totalDays / daysElapsed

	projected := baseFee.Add(charges.Mul(decimal.NewFromFloat(factor)))

	return &billingdomain.BillEstimate{
		PlanCode:          plan.Code,
		Currency:          plan.Currency,
		PeriodStart:       sub.CurrentPeriodStart,
		PeriodEnd:         sub.CurrentPeriodEnd,
		BaseFee:           plan.BaseFee,
		UsageCharges:      round2(charges),
		Total:             round2(baseFee.Add(charges)),
		ProjectionFactor:  factor,
		ProjectedMonthEnd: round2(projected),
		Summaries:         summaries,
	}, nil
}

func (s *Service) GenerateInvoice(ctx context.Context, orgID snowflake.ID, periodEnd time.Time, tx *gorm.DB) (*billingdomain.Invoice, error) {
	ctx = orgcontext.WithOrgID(ctx, int64(orgID))

	subRepo := s.subRepo
	invoiceRepo := s.invoiceRepo
	if tx != nil {
		subRepo = subRepo.WithTrx(tx)
		invoiceRepo = invoiceRepo.WithTrx(tx)
	}

	sub, err := subRepo.FindOne(ctx, &subscriptiondomain.Subscription{
		OrgID:  orgID,
		Status: subscriptiondomain.StatusActive,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, billingdomain.ErrNoActiveSubscription
	}

	plan, err := s.catalog.GetPlan(sub.PlanCode)
	if err != nil {
		return nil, billingdomain.ErrPlanNotFound
	}

	summaries, err := s.summarize(ctx, plan, sub.CurrentPeriodStart, periodEnd)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invoiceID := s.genID.Generate()

	total := decimal.NewFromFloat(plan.BaseFee)
	lines := make([]billingdomain.InvoiceLine, 0, len(summaries))
	for _, summary := range summaries {
		total = total.Add(decimal.NewFromFloat(summary.OverageCost))
		lines = append(lines, billingdomain.InvoiceLine{
			ID:              s.genID.Generate(),
			InvoiceID:       invoiceID,
			MetricCode:      summary.MetricCode,
			Description:     fmt.Sprintf("%s usage (%g %s)", summary.MetricName, summary.CurrentUsage, summary.Unit),
			OverageQuantity: summary.OverageQuantity,
			Amount:          summary.OverageCost,
			CreatedAt:       now,
		})
	}

	invoice := &billingdomain.Invoice{
		ID:             invoiceID,
		OrgID:          orgID,
		SubscriptionID: sub.ID,
		PlanCode:       plan.Code,
		Currency:       plan.Currency,
		Status:         billingdomain.InvoiceStatusOpen,
		PeriodStart:    sub.CurrentPeriodStart,
		PeriodEnd:      periodEnd,
		DueDate:        periodEnd.AddDate(0, 0, 15),
		BaseFee:        plan.BaseFee,
		TotalAmount:    round2(total),
		Lines:          lines,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InvoicesGenerated.Inc()
	}

	if tx != nil {
		// the row is not committed yet and the gateway must never
		// hold a transaction open; the caller mirrors after commit
		// via SyncInvoice
		return invoice, nil
	}

	// best-effort mirror; never fails the local invoice
	s.mirrorToGateway(ctx, sub, invoice)

	return invoice, nil
}

// SyncInvoice mirrors a committed invoice to the gateway. Mirror
// failures are logged and swallowed; only lookup failures are returned.
func (s *Service) SyncInvoice(ctx context.Context, invoiceID snowflake.ID) error {
	invoice, err := s.invoiceRepo.FindOne(ctx, &billingdomain.Invoice{ID: invoiceID})
	if err != nil {
		return err
	}
	if invoice == nil {
		return billingdomain.ErrInvoiceNotFound
	}
	if invoice.GatewayRef != "" {
		return nil
	}

	lines, err := s.lineRepo.Find(ctx, &billingdomain.InvoiceLine{InvoiceID: invoice.ID})
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line == nil {
			continue
		}
		invoice.Lines = append(invoice.Lines, *line)
	}

	sub, err := s.subRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: invoice.SubscriptionID})
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	s.mirrorToGateway(ctx, sub, invoice)
	return nil
}

func (s *Service) Invoices(ctx context.Context, req billingdomain.ListInvoicesRequest) (billingdomain.ListInvoicesResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return billingdomain.ListInvoicesResponse{}, billingdomain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	items, err := s.invoiceRepo.Find(ctx, &billingdomain.Invoice{OrgID: orgID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Desc: true, Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return billingdomain.ListInvoicesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *billingdomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	invoices := make([]billingdomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := billingdomain.ListInvoicesResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID snowflake.ID) (*billingdomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, billingdomain.ErrInvalidOrganization
	}

	invoice, err := s.invoiceRepo.FindOne(ctx, &billingdomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, billingdomain.ErrInvoiceNotFound
	}

	lines, err := s.lineRepo.Find(ctx, &billingdomain.InvoiceLine{InvoiceID: invoice.ID})
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line == nil {
			continue
		}
		invoice.Lines = append(invoice.Lines, *line)
	}
	return invoice, nil
}

func (s *Service) resolveActivePlan(ctx context.Context) (*subscriptiondomain.Subscription, *catalogdomain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, nil, billingdomain.ErrInvalidOrganization
	}

	sub, err := s.subSvc.ActiveByOrgID(ctx, orgID)
	if err != nil || sub == nil {
		return nil, nil, billingdomain.ErrNoActiveSubscription
	}

	plan, err := s.catalog.GetPlan(sub.PlanCode)
	if err != nil {
		return nil, nil, billingdomain.ErrPlanNotFound
	}
	return sub, plan, nil
}

// summarize computes one row per plan metric from the authoritative
// period aggregate, never the running total cache.
func (s *Service) summarize(ctx context.Context, plan *catalogdomain.Plan, start, end time.Time) ([]billingdomain.UsageSummary, error) {
	summaries := make([]billingdomain.UsageSummary, 0, len(plan.Metrics))
	for _, pm := range plan.Metrics {
		metric, err := s.catalog.GetMetric(pm.MetricCode)
		if err != nil {
			return nil, err
		}

		current, err := s.usageSvc.Aggregated(ctx, pm.MetricCode, start, end, metric.Aggregation)
		if err != nil {
			return nil, err
		}

		overage := 0.0
		if pm.IncludedQuantity >= 0 && current > pm.IncludedQuantity {
			overage = current - pm.IncludedQuantity
		}

		summaries = append(summaries, billingdomain.UsageSummary{
			MetricCode:       pm.MetricCode,
			MetricName:       metric.Name,
			Unit:             metric.Unit,
			CurrentUsage:     current,
			IncludedQuantity: pm.IncludedQuantity,
			OverageQuantity:  overage,
			OverageCost:      CalculateUsageCost(current, pm.Tiers),
		})
	}
	return summaries, nil
}

// mirrorToGateway pushes the invoice and its positive charges to the
// external provider. Failures are logged and swallowed.
func (s *Service) mirrorToGateway(ctx context.Context, sub *subscriptiondomain.Subscription, invoice *billingdomain.Invoice) {
	if s.gateway == nil || sub.GatewayRef == "" {
		return
	}

	ref, err := s.gateway.CreateInvoice(ctx, gatewaydomain.InvoiceDraft{
		SubscriptionRef: sub.GatewayRef,
		Currency:        invoice.Currency,
		PeriodStart:     invoice.PeriodStart,
		PeriodEnd:       invoice.PeriodEnd,
	})
	if err != nil {
		s.noteGatewayFailure("gateway invoice create failed", invoice.ID, err)
		return
	}

	for _, line := range invoice.Lines {
		if line.Amount <= 0 {
			continue
		}
		err := s.gateway.AddInvoiceLine(ctx, gatewaydomain.InvoiceLine{
			InvoiceRef:  ref,
			Description: line.Description,
			Amount:      line.Amount,
			Currency:    invoice.Currency,
		})
		if err != nil {
			s.noteGatewayFailure("gateway invoice line failed", invoice.ID, err)
		}
	}

	invoice.GatewayRef = ref
	err = s.invoiceRepo.Update(ctx, invoice.ID.String(), map[string]any{
		"gateway_ref": ref,
		"updated_at":  s.clock.Now(),
	})
	if err != nil {
		s.log.Warn("gateway ref persist failed", zap.String("invoice_id", invoice.ID.String()), zap.Error(err))
	}
}

func (s *Service) noteGatewayFailure(msg string, invoiceID snowflake.ID, err error) {
	if s.metrics != nil {
		s.metrics.GatewaySyncFailures.Inc()
	}
	s.log.Warn(msg, zap.String("invoice_id", invoiceID.String()), zap.Error(err))
}
