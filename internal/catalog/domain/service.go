package domain

// Service answers catalog lookups. The catalog is immutable after load.
type Service interface {
	GetMetric(code string) (*Metric, error)
	GetPlan(code string) (*Plan, error)
	ListMetrics() []Metric
	ListPlans() []Plan
}
