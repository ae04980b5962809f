package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	catalogservice "github.com/smallbiznis/meterline/internal/catalog/service"
	"github.com/smallbiznis/meterline/internal/clock"
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"github.com/smallbiznis/meterline/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/meterline/internal/subscription/service"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type captureGateway struct {
	mu      sync.Mutex
	reports []gatewaydomain.UsageReport
}

func (g *captureGateway) ListLineItems(ctx context.Context, ref string) ([]gatewaydomain.LineItem, error) {
	return nil, nil
}

func (g *captureGateway) ReportUsage(ctx context.Context, report gatewaydomain.UsageReport) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reports = append(g.reports, report)
	return nil
}

func (g *captureGateway) CreateInvoice(ctx context.Context, draft gatewaydomain.InvoiceDraft) (string, error) {
	return "", nil
}

func (g *captureGateway) AddInvoiceLine(ctx context.Context, line gatewaydomain.InvoiceLine) error {
	return nil
}

func (g *captureGateway) snapshot() []gatewaydomain.UsageReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]gatewaydomain.UsageReport, len(g.reports))
	copy(out, g.reports)
	return out
}

func usageCatalog() catalogdomain.Catalog {
	return catalogdomain.Catalog{
		Metrics: []catalogdomain.Metric{
			{Code: "api_calls", Name: "API Calls", Unit: "call", Aggregation: catalogdomain.AggregationSum, ResetPeriod: catalogdomain.ResetMonthly},
			{Code: "storage_gb", Name: "Storage", Unit: "GB", Aggregation: catalogdomain.AggregationMax, ResetPeriod: catalogdomain.ResetNever},
			{Code: "seats", Name: "Seats", Unit: "seat", Aggregation: catalogdomain.AggregationLast, ResetPeriod: catalogdomain.ResetNever},
		},
	}
}

type usageFixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	genID   *snowflake.Node
	orgID   snowflake.ID
	gateway *captureGateway
	svc     usagedomain.Service
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&usagedomain.UsageRecord{},
		&usagedomain.UsageTotal{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	catalogSvc, err := catalogservice.FromCatalog(usageCatalog(), log)
	require.NoError(t, err)

	gw := &captureGateway{}
	svc := NewService(ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		CatalogSvc: catalogSvc,
		SubSvc:     subscriptionservice.NewService(subscriptionservice.ServiceParam{DB: db, Log: log}),
		Gateway:    gw,
	})

	return &usageFixture{
		db:      db,
		clock:   fake,
		genID:   node,
		orgID:   node.Generate(),
		gateway: gw,
		svc:     svc,
	}
}

func (f *usageFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), int64(f.orgID))
}

func (f *usageFixture) total(t *testing.T, metricCode string) float64 {
	t.Helper()
	total, err := f.svc.RunningTotal(f.ctx(), metricCode)
	require.NoError(t, err)
	return total
}

func TestRecordUnknownMetric(t *testing.T) {
	f := newUsageFixture(t)
	_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "bandwidth", Quantity: 1})
	assert.ErrorIs(t, err, usagedomain.ErrUnknownMetric)
}

func TestRecordRequiresOrg(t *testing.T) {
	f := newUsageFixture(t)
	_, err := f.svc.Record(context.Background(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: 1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)
}

func TestRecordPersistsAndSumsTotal(t *testing.T) {
	f := newUsageFixture(t)

	record, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: 100})
	require.NoError(t, err)
	assert.NotZero(t, record.ID)
	assert.Equal(t, f.clock.Now(), record.RecordedAt)

	_, err = f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: 50})
	require.NoError(t, err)

	assert.Equal(t, 150.0, f.total(t, "api_calls"))

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestRunningTotalReducers(t *testing.T) {
	f := newUsageFixture(t)

	// max keeps the high-water mark
	for _, qty := range []float64{10, 25, 5} {
		_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "storage_gb", Quantity: qty})
		require.NoError(t, err)
	}
	assert.Equal(t, 25.0, f.total(t, "storage_gb"))

	// last replaces
	for _, qty := range []float64{8, 12, 3} {
		_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "seats", Quantity: qty})
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, f.total(t, "seats"))
}

func TestRecordBatch(t *testing.T) {
	f := newUsageFixture(t)

	records, err := f.svc.RecordBatch(f.ctx(), []usagedomain.RecordUsageRequest{
		{MetricCode: "api_calls", Quantity: 100},
		{MetricCode: "api_calls", Quantity: 200},
		{MetricCode: "storage_gb", Quantity: 7},
	})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	assert.Equal(t, 300.0, f.total(t, "api_calls"))
	assert.Equal(t, 7.0, f.total(t, "storage_gb"))
}

func TestRecordBatchRejectsUnknownMetricBeforeInsert(t *testing.T) {
	f := newUsageFixture(t)

	_, err := f.svc.RecordBatch(f.ctx(), []usagedomain.RecordUsageRequest{
		{MetricCode: "api_calls", Quantity: 100},
		{MetricCode: "bandwidth", Quantity: 1},
	})
	assert.ErrorIs(t, err, usagedomain.ErrUnknownMetric)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestAggregatedWindowInclusive(t *testing.T) {
	f := newUsageFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	for _, rec := range []struct {
		at  time.Time
		qty float64
	}{
		{start, 10},                    // on the start bound
		{start.AddDate(0, 0, 10), 20},  // inside
		{end, 30},                      // on the end bound
		{end.Add(time.Second), 1000},   // outside
		{start.Add(-time.Second), 500}, // outside
	} {
		_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{
			MetricCode: "api_calls",
			Quantity:   rec.qty,
			RecordedAt: rec.at,
		})
		require.NoError(t, err)
	}

	sum, err := f.svc.Aggregated(f.ctx(), "api_calls", start, end, catalogdomain.AggregationSum)
	require.NoError(t, err)
	assert.Equal(t, 60.0, sum)
}

func TestAggregatedOrderIndependence(t *testing.T) {
	f := newUsageFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	// inserted out of recorded order on purpose
	for _, rec := range []struct {
		at  time.Time
		qty float64
	}{
		{start.AddDate(0, 0, 20), 40},
		{start.AddDate(0, 0, 5), 90},
		{start.AddDate(0, 0, 12), 60},
	} {
		_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{
			MetricCode: "storage_gb",
			Quantity:   rec.qty,
			RecordedAt: rec.at,
		})
		require.NoError(t, err)
	}

	max, err := f.svc.Aggregated(f.ctx(), "storage_gb", start, end, catalogdomain.AggregationMax)
	require.NoError(t, err)
	assert.Equal(t, 90.0, max)

	// last follows recorded_at, not insertion order
	last, err := f.svc.Aggregated(f.ctx(), "storage_gb", start, end, catalogdomain.AggregationLast)
	require.NoError(t, err)
	assert.Equal(t, 40.0, last)
}

func TestAggregatedEmptyWindow(t *testing.T) {
	f := newUsageFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	for _, agg := range []catalogdomain.Aggregation{catalogdomain.AggregationSum, catalogdomain.AggregationMax, catalogdomain.AggregationLast} {
		value, err := f.svc.Aggregated(f.ctx(), "api_calls", start, end, agg)
		require.NoError(t, err)
		assert.Equal(t, 0.0, value)
	}
}

func TestResetMonthlyTotals(t *testing.T) {
	f := newUsageFixture(t)

	_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: 100})
	require.NoError(t, err)
	_, err = f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "storage_gb", Quantity: 42})
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetMonthlyTotals(f.ctx(), nil, int64(f.orgID)))

	assert.Equal(t, 0.0, f.total(t, "api_calls"))
	// storage_gb never resets
	assert.Equal(t, 42.0, f.total(t, "storage_gb"))
}

func TestListPagination(t *testing.T) {
	f := newUsageFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: float64(i + 1)})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	resp, err := f.svc.List(f.ctx(), usagedomain.ListUsageRequest{MetricCode: "api_calls", PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, resp.UsageRecords, 3)
	assert.True(t, resp.HasMore)
	assert.NotEmpty(t, resp.NextPageToken)
}

func TestGatewayReportKinds(t *testing.T) {
	f := newUsageFixture(t)
	require.NoError(t, f.db.Create(&subscriptiondomain.Subscription{
		ID:                 f.genID.Generate(),
		OrgID:              f.orgID,
		PlanCode:           "starter",
		Status:             subscriptiondomain.StatusActive,
		CurrentPeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		GatewayRef:         "sub_ext_9",
	}).Error)

	_, err := f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "api_calls", Quantity: 10})
	require.NoError(t, err)
	_, err = f.svc.Record(f.ctx(), usagedomain.RecordUsageRequest{MetricCode: "storage_gb", Quantity: 7})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.gateway.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	kinds := map[string]gatewaydomain.ReportKind{}
	for _, report := range f.gateway.snapshot() {
		kinds[report.MetricCode] = report.Kind
		assert.Equal(t, "sub_ext_9", report.SubscriptionRef)
	}
	assert.Equal(t, gatewaydomain.ReportIncrement, kinds["api_calls"])
	assert.Equal(t, gatewaydomain.ReportSet, kinds["storage_gb"])
}
