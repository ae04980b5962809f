package service

import (
	"testing"

	catalogdomain "github.com/smallbiznis/meterline/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func f64(v float64) *float64 { return &v }

func testCatalog() catalogdomain.Catalog {
	return catalogdomain.Catalog{
		Metrics: []catalogdomain.Metric{
			{Code: "api_calls", Name: "API Calls", Unit: "call", Aggregation: catalogdomain.AggregationSum, ResetPeriod: catalogdomain.ResetMonthly},
			{Code: "storage_gb", Name: "Storage", Unit: "GB", Aggregation: catalogdomain.AggregationMax, ResetPeriod: catalogdomain.ResetNever},
			{Code: "seats", Name: "Seats", Unit: "seat"},
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
							{UpTo: f64(1000), UnitPrice: 0},
							{UpTo: f64(10000), UnitPrice: 0.01},
							{UnitPrice: 0.005},
						},
					},
				},
			},
		},
	}
}

func TestFromCatalogLookups(t *testing.T) {
	svc, err := FromCatalog(testCatalog(), zap.NewNop())
	require.NoError(t, err)

	metric, err := svc.GetMetric("api_calls")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.AggregationSum, metric.Aggregation)

	_, err = svc.GetMetric("unknown")
	assert.ErrorIs(t, err, catalogdomain.ErrMetricNotFound)

	plan, err := svc.GetPlan("starter")
	require.NoError(t, err)
	assert.Equal(t, 49.0, plan.BaseFee)
	require.Len(t, plan.Metrics, 1)
	assert.Len(t, plan.Metrics[0].Tiers, 3)

	_, err = svc.GetPlan("enterprise")
	assert.ErrorIs(t, err, catalogdomain.ErrPlanNotFound)
}

func TestFromCatalogDefaultsAggregationToLast(t *testing.T) {
	svc, err := FromCatalog(testCatalog(), zap.NewNop())
	require.NoError(t, err)

	metric, err := svc.GetMetric("seats")
	require.NoError(t, err)
	assert.Equal(t, catalogdomain.AggregationLast, metric.Aggregation)
	assert.Equal(t, catalogdomain.ResetMonthly, metric.ResetPeriod)
}

func TestFromCatalogRejectsInvalidTiers(t *testing.T) {
	cases := map[string][]catalogdomain.PricingTier{
		"last tier bounded": {
			{UpTo: f64(100), UnitPrice: 0.1},
		},
		"non increasing bounds": {
			{UpTo: f64(100), UnitPrice: 0},
			{UpTo: f64(100), UnitPrice: 0.1},
			{UnitPrice: 0.05},
		},
		"unbounded tier not last": {
			{UnitPrice: 0.1},
			{UpTo: f64(100), UnitPrice: 0.05},
		},
		"negative price": {
			{UpTo: f64(100), UnitPrice: -0.1},
			{UnitPrice: 0.05},
		},
	}

	for name, tiers := range cases {
		t.Run(name, func(t *testing.T) {
			cat := testCatalog()
			cat.Plans[0].Metrics[0].Tiers = tiers
			_, err := FromCatalog(cat, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestFromCatalogRejectsUnknownPlanMetric(t *testing.T) {
	cat := testCatalog()
	cat.Plans[0].Metrics = append(cat.Plans[0].Metrics, catalogdomain.PlanMetric{MetricCode: "bandwidth"})
	_, err := FromCatalog(cat, zap.NewNop())
	assert.Error(t, err)
}

func TestIncludedMismatch(t *testing.T) {
	pm := catalogdomain.PlanMetric{
		MetricCode:       "api_calls",
		IncludedQuantity: 500,
		Tiers: []catalogdomain.PricingTier{
			{UpTo: f64(1000), UnitPrice: 0},
			{UnitPrice: 0.01},
		},
	}
	assert.True(t, pm.IncludedMismatch())

	pm.IncludedQuantity = 1000
	assert.False(t, pm.IncludedMismatch())
}

func TestReducer(t *testing.T) {
	assert.Equal(t, 15.0, catalogdomain.Reducer(catalogdomain.AggregationSum)(10, 5))
	assert.Equal(t, 10.0, catalogdomain.Reducer(catalogdomain.AggregationMax)(10, 5))
	assert.Equal(t, 12.0, catalogdomain.Reducer(catalogdomain.AggregationMax)(10, 12))
	assert.Equal(t, 5.0, catalogdomain.Reducer(catalogdomain.AggregationLast)(10, 5))
	assert.Equal(t, 5.0, catalogdomain.Reducer("unknown")(10, 5))
}
