package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/smallbiznis/meterline/internal/clock"
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"github.com/smallbiznis/meterline/internal/observability"
	"github.com/smallbiznis/meterline/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/db/option"
	"github.com/smallbiznis/meterline/pkg/db/pagination"
	"github.com/smallbiznis/meterline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
	AlertSvc   alertdomain.Service        `optional:"true"`
	Gateway    gatewaydomain.Gateway      `optional:"true"`
	Metrics    *observability.Metrics     `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	catalogSvc catalogdomain.Service
	subSvc     subscriptiondomain.Service
	alertSvc   alertdomain.Service
	gateway    gatewaydomain.Gateway
	metrics    *observability.Metrics

	recordRepo repository.Repository[usagedomain.UsageRecord]
	totalRepo  repository.Repository[usagedomain.UsageTotal]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		catalogSvc: p.CatalogSvc,
		subSvc:     p.SubSvc,
		alertSvc:   p.AlertSvc,
		gateway:    p.Gateway,
		metrics:    p.Metrics,

		recordRepo: repository.ProvideStore[usagedomain.UsageRecord](p.DB),
		totalRepo:  repository.ProvideStore[usagedomain.UsageTotal](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	metric, err := s.resolveMetric(req.MetricCode)
	if err != nil {
		return nil, err
	}
	if err := validateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	record := s.buildRecord(orgID, metric.Code, req)
	if err := s.recordRepo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.applyRecord(ctx, orgID, metric, record.Quantity)
	return record, nil
}

func (s *Service) RecordBatch(ctx context.Context, reqs []usagedomain.RecordUsageRequest) ([]*usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	metrics := make([]*catalogdomain.Metric, 0, len(reqs))
	records := make([]*usagedomain.UsageRecord, 0, len(reqs))
	for _, req := range reqs {
		metric, err := s.resolveMetric(req.MetricCode)
		if err != nil {
			return nil, err
		}
		if err := validateQuantity(req.Quantity); err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
		records = append(records, s.buildRecord(orgID, metric.Code, req))
	}

	// one bulk insert, then per-record totals in submission order
	if err := s.recordRepo.BatchCreate(ctx, records); err != nil {
		return nil, err
	}
	for i, record := range records {
		s.applyRecord(ctx, orgID, metrics[i], record.Quantity)
	}
	return records, nil
}

// applyRecord runs the post-insert pipeline: running total, alert
// evaluation, then the detached gateway report. Only the total update
// matters to the caller's result; everything after it is best effort.
func (s *Service) applyRecord(ctx context.Context, orgID snowflake.ID, metric *catalogdomain.Metric, quantity float64) {
	newTotal, err := s.updateRunningTotal(ctx, orgID, metric, quantity)
	if err != nil {
		s.log.Error("running total update failed",
			zap.String("metric", metric.Code),
			zap.Error(err),
		)
	}

	if s.alertSvc != nil {
		if err := s.alertSvc.Check(ctx, metric.Code); err != nil {
			s.log.Error("alert evaluation failed",
				zap.String("metric", metric.Code),
				zap.Error(err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.UsageIngested.WithLabelValues(metric.Code).Inc()
	}

	s.reportToGateway(orgID, metric, quantity, newTotal)
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidOrganization
	}

	filter := &usagedomain.UsageRecord{OrgID: orgID}
	if code := strings.TrimSpace(req.MetricCode); code != "" {
		filter.MetricCode = code
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.recordRepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Desc: true, Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}
	return buildListResponse(items, pageSize), nil
}

func (s *Service) Aggregated(ctx context.Context, metricCode string, start, end time.Time, agg catalogdomain.Aggregation) (float64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, usagedomain.ErrInvalidOrganization
	}

	db := s.db.WithContext(ctx)
	switch agg {
	case catalogdomain.AggregationSum:
		var total float64
		err := db.Raw(
			`SELECT COALESCE(SUM(quantity), 0) FROM usage_records
			 WHERE org_id = ? AND metric_code = ? AND recorded_at >= ? AND recorded_at <= ?`,
			orgID, metricCode, start, end,
		).Scan(&total).Error
		return total, err
	case catalogdomain.AggregationMax:
		var total float64
		err := db.Raw(
			`SELECT COALESCE(MAX(quantity), 0) FROM usage_records
			 WHERE org_id = ? AND metric_code = ? AND recorded_at >= ? AND recorded_at <= ?`,
			orgID, metricCode, start, end,
		).Scan(&total).Error
		return total, err
	default:
		// last write in the window wins
		var record usagedomain.UsageRecord
		err := db.
			Where("org_id = ? AND metric_code = ? AND recorded_at >= ? AND recorded_at <= ?",
				orgID, metricCode, start, end).
			Order("recorded_at DESC").
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, nil
			}
			return 0, err
		}
		return record.Quantity, nil
	}
}

func (s *Service) RunningTotal(ctx context.Context, metricCode string) (float64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, usagedomain.ErrInvalidOrganization
	}

	total, err := s.totalRepo.FindOne(ctx, &usagedomain.UsageTotal{OrgID: orgID, MetricCode: metricCode})
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return total.Total, nil
}

func (s *Service) ResetMonthlyTotals(ctx context.Context, tx *gorm.DB, orgID int64) error {
	codes := make([]string, 0)
	for _, metric := range s.catalogSvc.ListMetrics() {
		if metric.ResetPeriod == catalogdomain.ResetMonthly {
			codes = append(codes, metric.Code)
		}
	}
	if len(codes) == 0 {
		return nil
	}

	db := tx
	if db == nil {
		db = s.db
	}
	return db.WithContext(ctx).
		Model(&usagedomain.UsageTotal{}).
		Where("org_id = ? AND metric_code IN ?", orgID, codes).
		Updates(map[string]any{"total": 0, "updated_at": s.clock.Now()}).Error
}

func (s *Service) resolveMetric(code string) (*catalogdomain.Metric, error) {
	metric, err := s.catalogSvc.GetMetric(strings.TrimSpace(code))
	if err != nil {
		return nil, usagedomain.ErrUnknownMetric
	}
	return metric, nil
}

func (s *Service) buildRecord(orgID snowflake.ID, metricCode string, req usagedomain.RecordUsageRequest) *usagedomain.UsageRecord {
	now := s.clock.Now()
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}

	record := &usagedomain.UsageRecord{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		MetricCode: metricCode,
		Quantity:   req.Quantity,
		RecordedAt: recordedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}
	return record
}

// updateRunningTotal folds the quantity into the cached total. The
// read-modify-write is deliberately unlocked; the cache tolerates lost
// updates because billing re-aggregates from the record log.
func (s *Service) updateRunningTotal(ctx context.Context, orgID snowflake.ID, metric *catalogdomain.Metric, quantity float64) (float64, error) {
	reduce := catalogdomain.Reducer(metric.Aggregation)

	existing, err := s.totalRepo.FindOne(ctx, &usagedomain.UsageTotal{OrgID: orgID, MetricCode: metric.Code})
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	if existing == nil {
		total := &usagedomain.UsageTotal{
			ID:         s.genID.Generate(),
			OrgID:      orgID,
			MetricCode: metric.Code,
			Total:      reduce(0, quantity),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := s.totalRepo.Create(ctx, total)
		if err == nil {
			return total.Total, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return 0, err
		}
		// lost the first-write race; fall through to the update path
		existing, err = s.totalRepo.FindOne(ctx, &usagedomain.UsageTotal{OrgID: orgID, MetricCode: metric.Code})
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return 0, gorm.ErrRecordNotFound
		}
	}

	newTotal := reduce(existing.Total, quantity)
	err = s.totalRepo.Update(ctx, existing.ID.String(), map[string]any{
		"total":      newTotal,
		"updated_at": now,
	})
	if err != nil {
		return 0, err
	}
	return newTotal, nil
}

// reportToGateway submits the usage delta on a detached goroutine. Sum
// metrics report increments; max and last report the absolute total.
func (s *Service) reportToGateway(orgID snowflake.ID, metric *catalogdomain.Metric, quantity, newTotal float64) {
	if s.gateway == nil {
		return
	}

	kind := gatewaydomain.ReportSet
	value := newTotal
	if metric.Aggregation == catalogdomain.AggregationSum {
		kind = gatewaydomain.ReportIncrement
		value = quantity
	}
	recordedAt := s.clock.Now()

	go func() {
		ctx := orgcontext.WithOrgID(context.Background(), int64(orgID))

		sub, err := s.subSvc.ActiveByOrgID(ctx, orgID)
		if err != nil || sub == nil || sub.GatewayRef == "" {
			return
		}

		err = s.gateway.ReportUsage(ctx, gatewaydomain.UsageReport{
			SubscriptionRef: sub.GatewayRef,
			MetricCode:      metric.Code,
			Quantity:        value,
			Kind:            kind,
			RecordedAt:      recordedAt,
		})
		if err != nil {
			if s.metrics != nil {
				s.metrics.GatewaySyncFailures.Inc()
			}
			s.log.Warn("gateway usage report failed",
				zap.String("metric", metric.Code),
				zap.Error(err),
			)
		}
	}()
}

func validateQuantity(quantity float64) error {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return usagedomain.ErrInvalidQuantity
	}
	return nil
}

func buildListResponse(items []*usagedomain.UsageRecord, pageSize int32) usagedomain.ListUsageResponse {
	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]usagedomain.UsageRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := usagedomain.ListUsageResponse{UsageRecords: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp
}
