package service

import (
	"fmt"
	"sort"
	"strings"

	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

type Service struct {
	log     *zap.Logger
	metrics map[string]catalogdomain.Metric
	plans   map[string]catalogdomain.Plan
}

// NewService loads the pricing catalog from the configured YAML file and
// indexes it in memory.
func NewService(p ServiceParam) (catalogdomain.Service, error) {
	cat, err := Load(p.Config.CatalogPath)
	if err != nil {
		return nil, err
	}
	return FromCatalog(cat, p.Log)
}

// FromCatalog validates and indexes an already parsed catalog. Tests use
// this to skip file loading.
func FromCatalog(cat catalogdomain.Catalog, log *zap.Logger) (catalogdomain.Service, error) {
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	s := &Service{
		log:     log.Named("catalog.service"),
		metrics: make(map[string]catalogdomain.Metric, len(cat.Metrics)),
		plans:   make(map[string]catalogdomain.Plan, len(cat.Plans)),
	}

	for _, metric := range cat.Metrics {
		if metric.Aggregation == "" {
			metric.Aggregation = catalogdomain.AggregationLast
		}
		if metric.ResetPeriod == "" {
			metric.ResetPeriod = catalogdomain.ResetMonthly
		}
		s.metrics[metric.Code] = metric
	}

	for _, plan := range cat.Plans {
		for _, pm := range plan.Metrics {
			if pm.IncludedMismatch() {
				s.log.Warn("included quantity disagrees with first free tier bound",
					zap.String("plan", plan.Code),
					zap.String("metric", pm.MetricCode),
					zap.Float64("included_quantity", pm.IncludedQuantity),
				)
			}
		}
		s.plans[plan.Code] = plan
	}

	return s, nil
}

// Load reads a catalog YAML file.
func Load(path string) (catalogdomain.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalogdomain.Catalog{}, fmt.Errorf("catalog path is not configured")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return catalogdomain.Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var cat catalogdomain.Catalog
	if err := v.Unmarshal(&cat); err != nil {
		return catalogdomain.Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cat, nil
}

func (s *Service) GetMetric(code string) (*catalogdomain.Metric, error) {
	metric, ok := s.metrics[strings.TrimSpace(code)]
	if !ok {
		return nil, catalogdomain.ErrMetricNotFound
	}
	return &metric, nil
}

func (s *Service) GetPlan(code string) (*catalogdomain.Plan, error) {
	plan, ok := s.plans[strings.TrimSpace(code)]
	if !ok {
		return nil, catalogdomain.ErrPlanNotFound
	}
	return &plan, nil
}

func (s *Service) ListMetrics() []catalogdomain.Metric {
	metrics := make([]catalogdomain.Metric, 0, len(s.metrics))
	for _, metric := range s.metrics {
		metrics = append(metrics, metric)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Code < metrics[j].Code })
	return metrics
}

func (s *Service) ListPlans() []catalogdomain.Plan {
	plans := make([]catalogdomain.Plan, 0, len(s.plans))
	for _, plan := range s.plans {
		plans = append(plans, plan)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Code < plans[j].Code })
	return plans
}
