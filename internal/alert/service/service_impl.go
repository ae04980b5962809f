package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/observability"
	"github.com/smallbiznis/meterline/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/pkg/db/option"
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
	Metrics    *observability.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	catalog catalogdomain.Service
	subSvc  subscriptiondomain.Service
	metrics *observability.Metrics

	alertRepo repository.Repository[alertdomain.UsageAlert]
	totalRepo repository.Repository[usagedomain.UsageTotal]
}

func NewService(p ServiceParam) alertdomain.Service {
	return &Service{
		log:     p.Log.Named("alert.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		catalog: p.CatalogSvc,
		subSvc:  p.SubSvc,
		metrics: p.Metrics,

		alertRepo: repository.ProvideStore[alertdomain.UsageAlert](p.DB),
		totalRepo: repository.ProvideStore[usagedomain.UsageTotal](p.DB),
	}
}

func (s *Service) Set(ctx context.Context, req alertdomain.SetAlertRequest) (*alertdomain.UsageAlert, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, alertdomain.ErrInvalidOrganization
	}

	metricCode := strings.TrimSpace(req.MetricCode)
	if _, err := s.catalog.GetMetric(metricCode); err != nil {
		return nil, alertdomain.ErrInvalidMetric
	}

	switch req.ThresholdType {
	case alertdomain.ThresholdAbsolute, alertdomain.ThresholdPercentage:
	default:
		return nil, alertdomain.ErrInvalidThresholdType
	}
	if req.Threshold <= 0 {
		return nil, alertdomain.ErrInvalidThreshold
	}

	now := s.clock.Now()

	existing, err := s.alertRepo.FindOne(ctx, &alertdomain.UsageAlert{
		OrgID:         orgID,
		MetricCode:    metricCode,
		ThresholdType: req.ThresholdType,
	})
	if err != nil {
		return nil, err
	}

	if existing == nil {
		alert := &alertdomain.UsageAlert{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			MetricCode:    metricCode,
			ThresholdType: req.ThresholdType,
			Threshold:     req.Threshold,
			Enabled:       req.Enabled,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.alertRepo.Create(ctx, alert); err != nil {
			return nil, err
		}
		return alert, nil
	}

	err = s.alertRepo.Update(ctx, existing.ID.String(), map[string]any{
		"threshold":  req.Threshold,
		"enabled":    req.Enabled,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}

	existing.Threshold = req.Threshold
	existing.Enabled = req.Enabled
	existing.UpdatedAt = now
	return existing, nil
}

func (s *Service) List(ctx context.Context) ([]alertdomain.UsageAlert, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, alertdomain.ErrInvalidOrganization
	}

	items, err := s.alertRepo.Find(ctx, &alertdomain.UsageAlert{OrgID: orgID})
	if err != nil {
		return nil, err
	}

	alerts := make([]alertdomain.UsageAlert, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		alerts = append(alerts, *item)
	}
	return alerts, nil
}

// Check evaluates the enabled alerts for one metric against the running
// total. The total is a fast-path approximation, not the billing
// aggregate.
func (s *Service) Check(ctx context.Context, metricCode string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return alertdomain.ErrInvalidOrganization
	}

	alerts, err := s.alertRepo.Find(ctx,
		&alertdomain.UsageAlert{OrgID: orgID, MetricCode: metricCode},
		option.WithWhere("enabled = ?", true),
	)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	current, err := s.currentTotal(ctx, orgID, metricCode)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, alert := range alerts {
		if alert == nil || !s.shouldFire(ctx, alert, current) {
			continue
		}
		if alert.LastTriggeredAt != nil && now.Sub(*alert.LastTriggeredAt) <= alertdomain.DebounceWindow {
			continue
		}

		err := s.alertRepo.Update(ctx, alert.ID.String(), map[string]any{
			"last_triggered_at": now,
			"updated_at":        now,
		})
		if err != nil {
			s.log.Error("alert trigger update failed", zap.Error(err))
			continue
		}

		if s.metrics != nil {
			s.metrics.AlertsTriggered.WithLabelValues(metricCode).Inc()
		}
		s.log.Warn("usage alert triggered",
			zap.String("org_id", orgID.String()),
			zap.String("metric", metricCode),
			zap.String("threshold_type", string(alert.ThresholdType)),
			zap.Float64("threshold", alert.Threshold),
			zap.Float64("current_usage", current),
		)
	}
	return nil
}

func (s *Service) shouldFire(ctx context.Context, alert *alertdomain.UsageAlert, current float64) bool {
	switch alert.ThresholdType {
	case alertdomain.ThresholdAbsolute:
		return current >= alert.Threshold
	case alertdomain.ThresholdPercentage:
		included := s.includedQuantity(ctx, alert.MetricCode)
		if included <= 0 {
			// unlimited or unpriced metrics never breach a percentage
			return false
		}
		return (current/included)*100 >= alert.Threshold
	default:
		return false
	}
}

func (s *Service) currentTotal(ctx context.Context, orgID snowflake.ID, metricCode string) (float64, error) {
	total, err := s.totalRepo.FindOne(ctx, &usagedomain.UsageTotal{OrgID: orgID, MetricCode: metricCode})
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return total.Total, nil
}

func (s *Service) includedQuantity(ctx context.Context, metricCode string) float64 {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0
	}

	sub, err := s.subSvc.ActiveByOrgID(ctx, orgID)
	if err != nil || sub == nil {
		return 0
	}

	plan, err := s.catalog.GetPlan(sub.PlanCode)
	if err != nil {
		return 0
	}

	for _, pm := range plan.Metrics {
		if pm.MetricCode == metricCode {
			return pm.IncludedQuantity
		}
	}
	return 0
}
