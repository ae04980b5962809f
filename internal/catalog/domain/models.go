// Package domain defines the pricing catalog loaded at startup.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Aggregation decides how raw usage values fold into a running total.
type Aggregation string

const (
	AggregationSum  Aggregation = "sum"
	AggregationMax  Aggregation = "max"
	AggregationLast Aggregation = "last"
)

// ResetPeriod decides whether a metric's running total resets on rollover.
type ResetPeriod string

const (
	ResetMonthly ResetPeriod = "monthly"
	ResetNever   ResetPeriod = "never"
)

// Metric describes a billable quantity identified by its code.
type Metric struct {
	Code        string      `mapstructure:"code" json:"code"`
	Name        string      `mapstructure:"name" json:"name"`
	Unit        string      `mapstructure:"unit" json:"unit"`
	Aggregation Aggregation `mapstructure:"aggregation" json:"aggregation"`
	ResetPeriod ResetPeriod `mapstructure:"reset_period" json:"reset_period"`
}

// PricingTier prices consumption up to an upper bound. A nil UpTo means
// the tier is unbounded and must be the last tier.
type PricingTier struct {
	UpTo      *float64 `mapstructure:"up_to" json:"up_to,omitempty"`
	UnitPrice float64  `mapstructure:"unit_price" json:"unit_price"`
	FlatFee   float64  `mapstructure:"flat_fee" json:"flat_fee"`
}

// PlanMetric attaches a tier schedule to a metric within a plan.
// IncludedQuantity of -1 means unlimited.
type PlanMetric struct {
	MetricCode       string        `mapstructure:"metric_code" json:"metric_code"`
	IncludedQuantity float64       `mapstructure:"included_quantity" json:"included_quantity"`
	Tiers            []PricingTier `mapstructure:"tiers" json:"tiers"`
}

// Plan is a priced bundle of metrics with a recurring base fee.
type Plan struct {
	Code     string       `mapstructure:"code" json:"code"`
	Name     string       `mapstructure:"name" json:"name"`
	BaseFee  float64      `mapstructure:"base_fee" json:"base_fee"`
	Currency string       `mapstructure:"currency" json:"currency"`
	Metrics  []PlanMetric `mapstructure:"metrics" json:"metrics"`
}

// Catalog is the full pricing configuration.
type Catalog struct {
	Metrics []Metric `mapstructure:"metrics" json:"metrics"`
	Plans   []Plan   `mapstructure:"plans" json:"plans"`
}

var (
	ErrMetricNotFound = errors.New("metric_not_found")
	ErrPlanNotFound   = errors.New("plan_not_found")
)

// Reducer returns the fold function for an aggregation. Unknown
// aggregations fall back to last-write-wins.
func Reducer(agg Aggregation) func(current, incoming float64) float64 {
	switch agg {
	case AggregationSum:
		return func(current, incoming float64) float64 { return current + incoming }
	case AggregationMax:
		return func(current, incoming float64) float64 {
			if incoming > current {
				return incoming
			}
			return current
		}
	default:
		return func(_, incoming float64) float64 { return incoming }
	}
}

// Validate checks structural consistency of the catalog and returns the
// first violation found.
func (c Catalog) Validate() error {
	metricCodes := make(map[string]bool, len(c.Metrics))
	for _, metric := range c.Metrics {
		code := strings.TrimSpace(metric.Code)
		if code == "" {
			return errors.New("metric code must not be empty")
		}
		if metricCodes[code] {
			return fmt.Errorf("duplicate metric code %q", code)
		}
		metricCodes[code] = true

		switch metric.Aggregation {
		case AggregationSum, AggregationMax, AggregationLast, "":
		default:
			return fmt.Errorf("metric %q: unknown aggregation %q", code, metric.Aggregation)
		}
		switch metric.ResetPeriod {
		case ResetMonthly, ResetNever, "":
		default:
			return fmt.Errorf("metric %q: unknown reset period %q", code, metric.ResetPeriod)
		}
	}

	planCodes := make(map[string]bool, len(c.Plans))
	for _, plan := range c.Plans {
		code := strings.TrimSpace(plan.Code)
		if code == "" {
			return errors.New("plan code must not be empty")
		}
		if planCodes[code] {
			return fmt.Errorf("duplicate plan code %q", code)
		}
		planCodes[code] = true

		if plan.BaseFee < 0 {
			return fmt.Errorf("plan %q: base fee must not be negative", code)
		}

		seenMetrics := make(map[string]bool, len(plan.Metrics))
		for _, pm := range plan.Metrics {
			if !metricCodes[pm.MetricCode] {
				return fmt.Errorf("plan %q: unknown metric %q", code, pm.MetricCode)
			}
			if seenMetrics[pm.MetricCode] {
				return fmt.Errorf("plan %q: metric %q listed twice", code, pm.MetricCode)
			}
			seenMetrics[pm.MetricCode] = true

			if pm.IncludedQuantity < 0 && pm.IncludedQuantity != -1 {
				return fmt.Errorf("plan %q metric %q: included quantity must be -1 or >= 0", code, pm.MetricCode)
			}
			if err := validateTiers(code, pm); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTiers(planCode string, pm PlanMetric) error {
	if len(pm.Tiers) == 0 {
		return nil
	}

	prev := 0.0
	for i, tier := range pm.Tiers {
		if tier.UnitPrice < 0 || tier.FlatFee < 0 {
			return fmt.Errorf("plan %q metric %q tier %d: prices must not be negative", planCode, pm.MetricCode, i)
		}
		if tier.UpTo == nil {
			if i != len(pm.Tiers)-1 {
				return fmt.Errorf("plan %q metric %q tier %d: only the last tier may be unbounded", planCode, pm.MetricCode, i)
			}
			continue
		}
		if *tier.UpTo <= prev {
			return fmt.Errorf("plan %q metric %q tier %d: bounds must strictly increase", planCode, pm.MetricCode, i)
		}
		prev = *tier.UpTo
	}

	last := pm.Tiers[len(pm.Tiers)-1]
	if last.UpTo != nil {
		return fmt.Errorf("plan %q metric %q: last tier must be unbounded", planCode, pm.MetricCode)
	}
	return nil
}

// IncludedMismatch reports whether the included quantity disagrees with
// the upper bound of a leading zero-priced tier. The catalog still loads;
// callers surface this as a configuration warning.
func (pm PlanMetric) IncludedMismatch() bool {
	if pm.IncludedQuantity <= 0 || len(pm.Tiers) == 0 {
		return false
	}
	first := pm.Tiers[0]
	if first.UnitPrice != 0 || first.FlatFee != 0 || first.UpTo == nil {
		return false
	}
	return *first.UpTo != pm.IncludedQuantity
}
