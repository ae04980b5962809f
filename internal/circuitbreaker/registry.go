package circuitbreaker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/observability"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrUnknownCircuit is returned by introspection calls for names that
// have never executed.
var ErrUnknownCircuit = errors.New("unknown_circuit")

type circuit struct {
	state   State
	metrics Metrics
	options Options

	// optionsBound pins the options chosen on first use; a reset
	// unpins them so the next caller may rebind.
	optionsBound bool
}

type RegistryParam struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *observability.Metrics `optional:"true"`
}

// Registry holds every named circuit for the process lifetime. All
// state checks and mutations happen under one mutex; the wrapped
// operation itself runs outside it.
type Registry struct {
	mu       sync.Mutex
	log      *zap.Logger
	clock    clock.Clock
	obs      *observability.Metrics
	circuits map[string]*circuit
}

func NewRegistry(p RegistryParam) *Registry {
	return &Registry{
		log:      p.Log.Named("circuitbreaker"),
		clock:    p.Clock,
		obs:      p.Metrics,
		circuits: make(map[string]*circuit),
	}
}

// Execute runs op under the named circuit. When the circuit is open the
// call is rejected with *OpenError and op is never invoked. Options are
// honored only on the first use of a name.
func (r *Registry) Execute(ctx context.Context, name string, op func(ctx context.Context) error, opts ...Options) error {
	if err := r.before(name, opts...); err != nil {
		return err
	}

	err := op(ctx)
	r.after(name, err)
	return err
}

// before admits or rejects the call and counts the attempt.
func (r *Registry) before(name string, opts ...Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.obtain(name, opts...)

	switch c.state {
	case StateOpen:
		elapsed := r.clock.Now().Sub(c.metrics.LastStateChange)
		if elapsed < c.options.Timeout {
			return &OpenError{Name: name, RetryAfter: c.options.Timeout - elapsed}
		}
		r.transition(name, c, StateHalfOpen)
	case StateHalfOpen, StateClosed:
	}

	c.metrics.TotalRequests++
	return nil
}

// after records the outcome of an admitted call.
func (r *Registry) after(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return
	}

	if err != nil {
		r.recordFailure(name, c)
		return
	}
	r.recordSuccess(name, c)
}

func (r *Registry) recordFailure(name string, c *circuit) {
	now := r.clock.Now()
	c.metrics.Failures++
	c.metrics.FailedRequests++
	c.metrics.LastFailureTime = now

	switch c.state {
	case StateHalfOpen:
		// one probe failure sends the circuit straight back to open
		c.metrics.Successes = 0
		r.transition(name, c, StateOpen)
	case StateClosed:
		if c.metrics.Failures >= c.options.FailureThreshold {
			r.transition(name, c, StateOpen)
		}
	}
}

func (r *Registry) recordSuccess(name string, c *circuit) {
	now := r.clock.Now()

	switch c.state {
	case StateHalfOpen:
		c.metrics.Successes++
		if c.metrics.Successes >= c.options.SuccessThreshold {
			c.metrics = Metrics{}
			r.transition(name, c, StateClosed)
		}
	case StateClosed:
		// stale failures outside the monitoring window no longer count
		if c.metrics.Failures > 0 && now.Sub(c.metrics.LastFailureTime) > c.options.MonitoringWindow {
			c.metrics.Failures = 0
		}
	}
}

func (r *Registry) transition(name string, c *circuit, next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.metrics.LastStateChange = r.clock.Now()

	if r.obs != nil {
		r.obs.CircuitTransitions.WithLabelValues(name, string(next)).Inc()
	}
	r.log.Info("circuit state changed",
		zap.String("circuit", name),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
}

// obtain returns the named circuit, creating it with the caller's
// options on first use.
func (r *Registry) obtain(name string, opts ...Options) *circuit {
	if c, ok := r.circuits[name]; ok {
		if !c.optionsBound {
			c.options = bindOptions(opts...)
			c.optionsBound = true
		}
		return c
	}

	c := &circuit{
		state:        StateClosed,
		options:      bindOptions(opts...),
		optionsBound: true,
		metrics:      Metrics{LastStateChange: r.clock.Now()},
	}
	r.circuits[name] = c
	return c
}

func bindOptions(opts ...Options) Options {
	if len(opts) > 0 {
		return opts[0].withDefaults()
	}
	return DefaultOptions
}

// CircuitState returns the current state of a named circuit.
func (r *Registry) CircuitState(name string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return "", ErrUnknownCircuit
	}
	return c.state, nil
}

// CircuitMetrics returns a snapshot of a named circuit's counters.
func (r *Registry) CircuitMetrics(name string) (Metrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return Metrics{}, ErrUnknownCircuit
	}
	return c.metrics, nil
}

// AllStatuses returns snapshots for every known circuit, sorted by name.
func (r *Registry) AllStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]Status, 0, len(r.circuits))
	for name, c := range r.circuits {
		statuses = append(statuses, Status{
			Name:    name,
			State:   c.state,
			Metrics: c.metrics,
			Options: c.options,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Reset forces a circuit back to closed with empty metrics. Options may
// be re-bound by the next Execute call.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return ErrUnknownCircuit
	}

	c.state = StateClosed
	c.metrics = Metrics{LastStateChange: r.clock.Now()}
	c.optionsBound = false

	r.log.Info("circuit reset", zap.String("circuit", name))
	return nil
}
