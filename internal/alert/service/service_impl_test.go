package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	catalogservice "github.com/smallbiznis/meterline/internal/catalog/service"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
	subscriptionservice "github.com/smallbiznis/meterline/internal/subscription/service"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func alertCatalog() catalogdomain.Catalog {
	upTo := func(v float64) *float64 { return &v }
	return catalogdomain.Catalog{
		Metrics: []catalogdomain.Metric{
			{Code: "api_calls", Name: "API Calls", Unit: "call", Aggregation: catalogdomain.AggregationSum, ResetPeriod: catalogdomain.ResetMonthly},
		},
		Plans: []catalogdomain.Plan{
			{
				Code:     "starter",
				Name:     "Starter",
				BaseFee:  49,
				Currency: "USD",
				Metrics: []catalogdomain.PlanMetric{
					{
						MetricCode:       "api_calls",
						IncludedQuantity: 1000,
						Tiers: []catalogdomain.PricingTier{
							{UpTo: upTo(1000), UnitPrice: 0},
							{UnitPrice: 0.01},
						},
					},
				},
			},
		},
	}
}

type alertFixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	genID *snowflake.Node
	orgID snowflake.ID
	svc   alertdomain.Service
}

func newAlertFixture(t *testing.T) *alertFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&alertdomain.UsageAlert{},
		&usagedomain.UsageTotal{},
		&subscriptiondomain.Subscription{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	catalogSvc, err := catalogservice.FromCatalog(alertCatalog(), log)
	require.NoError(t, err)

	orgID := node.Generate()
	require.NoError(t, db.Create(&subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		OrgID:              orgID,
		PlanCode:           "starter",
		Status:             subscriptiondomain.StatusActive,
		CurrentPeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}).Error)

	svc := NewService(ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		CatalogSvc: catalogSvc,
		SubSvc:     subscriptionservice.NewService(subscriptionservice.ServiceParam{DB: db, Log: log}),
	})

	return &alertFixture{db: db, clock: fake, genID: node, orgID: orgID, svc: svc}
}

func (f *alertFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), int64(f.orgID))
}

func (f *alertFixture) setTotal(t *testing.T, metricCode string, total float64) {
	t.Helper()
	var existing usagedomain.UsageTotal
	err := f.db.Where("org_id = ? AND metric_code = ?", f.orgID, metricCode).First(&existing).Error
	if err == nil {
		require.NoError(t, f.db.Model(&existing).Update("total", total).Error)
		return
	}
	require.NoError(t, f.db.Create(&usagedomain.UsageTotal{
		ID:         f.genID.Generate(),
		OrgID:      f.orgID,
		MetricCode: metricCode,
		Total:      total,
	}).Error)
}

func (f *alertFixture) lastTriggered(t *testing.T, id snowflake.ID) *time.Time {
	t.Helper()
	var alert alertdomain.UsageAlert
	require.NoError(t, f.db.Where("id = ?", id).First(&alert).Error)
	return alert.LastTriggeredAt
}

func TestSetValidation(t *testing.T) {
	f := newAlertFixture(t)

	_, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{MetricCode: "bandwidth", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 10})
	assert.ErrorIs(t, err, alertdomain.ErrInvalidMetric)

	_, err = f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{MetricCode: "api_calls", ThresholdType: "ratio", Threshold: 10})
	assert.ErrorIs(t, err, alertdomain.ErrInvalidThresholdType)

	_, err = f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 0})
	assert.ErrorIs(t, err, alertdomain.ErrInvalidThreshold)
}

func TestSetUpserts(t *testing.T) {
	f := newAlertFixture(t)

	created, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 500, Enabled: true,
	})
	require.NoError(t, err)

	updated, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 900, Enabled: true,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 900.0, updated.Threshold)

	alerts, err := f.svc.List(f.ctx())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestCheckAbsoluteThreshold(t *testing.T) {
	f := newAlertFixture(t)
	alert, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 500, Enabled: true,
	})
	require.NoError(t, err)

	f.setTotal(t, "api_calls", 499)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.Nil(t, f.lastTriggered(t, alert.ID))

	f.setTotal(t, "api_calls", 500)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	triggered := f.lastTriggered(t, alert.ID)
	require.NotNil(t, triggered)
	assert.WithinDuration(t, f.clock.Now(), triggered.UTC(), time.Second)
}

func TestCheckPercentageThreshold(t *testing.T) {
	f := newAlertFixture(t)
	alert, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdPercentage, Threshold: 80, Enabled: true,
	})
	require.NoError(t, err)

	// 799 of 1000 included is 79.9%
	f.setTotal(t, "api_calls", 799)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.Nil(t, f.lastTriggered(t, alert.ID))

	f.setTotal(t, "api_calls", 800)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.NotNil(t, f.lastTriggered(t, alert.ID))
}

func TestCheckDebounce(t *testing.T) {
	f := newAlertFixture(t)
	alert, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 100, Enabled: true,
	})
	require.NoError(t, err)

	f.setTotal(t, "api_calls", 150)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	first := f.lastTriggered(t, alert.ID)
	require.NotNil(t, first)

	// still inside the 24h window, even though the condition holds
	f.clock.Advance(23 * time.Hour)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.True(t, first.Equal(*f.lastTriggered(t, alert.ID)))

	// past the window it fires again
	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.True(t, f.lastTriggered(t, alert.ID).After(*first))
}

func TestCheckSkipsDisabledAlerts(t *testing.T) {
	f := newAlertFixture(t)
	alert, err := f.svc.Set(f.ctx(), alertdomain.SetAlertRequest{
		MetricCode: "api_calls", ThresholdType: alertdomain.ThresholdAbsolute, Threshold: 100, Enabled: false,
	})
	require.NoError(t, err)

	f.setTotal(t, "api_calls", 1000)
	require.NoError(t, f.svc.Check(f.ctx(), "api_calls"))
	assert.Nil(t, f.lastTriggered(t, alert.ID))
}
