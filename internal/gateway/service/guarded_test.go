package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/meterline/internal/circuitbreaker"
	"github.com/smallbiznis/meterline/internal/clock"
	gatewaydomain "github.com/smallbiznis/meterline/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errProviderDown = errors.New("provider down")

type flakyGateway struct {
	gatewaydomain.Gateway
	fail  bool
	calls int
}

func (g *flakyGateway) ReportUsage(ctx context.Context, report gatewaydomain.UsageReport) error {
	g.calls++
	if g.fail {
		return errProviderDown
	}
	return nil
}

func (g *flakyGateway) CreateInvoice(ctx context.Context, draft gatewaydomain.InvoiceDraft) (string, error) {
	g.calls++
	if g.fail {
		return "", errProviderDown
	}
	return "inv-1", nil
}

func TestGuardedGatewayTripsOnProviderOutage(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	registry := circuitbreaker.NewRegistry(circuitbreaker.RegistryParam{Log: zap.NewNop(), Clock: fake})
	inner := &flakyGateway{fail: true}

	guarded := NewGuardedGateway(GuardedParam{Log: zap.NewNop(), Registry: registry, Inner: inner})

	report := gatewaydomain.UsageReport{SubscriptionRef: "sub_1", MetricCode: "api_calls", Quantity: 1, Kind: gatewaydomain.ReportIncrement}
	for i := 0; i < circuitbreaker.DefaultOptions.FailureThreshold; i++ {
		require.ErrorIs(t, guarded.ReportUsage(context.Background(), report), errProviderDown)
	}

	// circuit is open, the provider is no longer called
	var openErr *circuitbreaker.OpenError
	err := guarded.ReportUsage(context.Background(), report)
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, circuitbreaker.DefaultOptions.FailureThreshold, inner.calls)

	// invoice sync uses a separate circuit and still reaches the provider
	_, err = guarded.CreateInvoice(context.Background(), gatewaydomain.InvoiceDraft{SubscriptionRef: "sub_1"})
	assert.ErrorIs(t, err, errProviderDown)
}

func TestGuardedGatewayRecoversAfterTimeout(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	registry := circuitbreaker.NewRegistry(circuitbreaker.RegistryParam{Log: zap.NewNop(), Clock: fake})
	inner := &flakyGateway{fail: true}
	guarded := NewGuardedGateway(GuardedParam{Log: zap.NewNop(), Registry: registry, Inner: inner})

	report := gatewaydomain.UsageReport{SubscriptionRef: "sub_1", MetricCode: "api_calls", Quantity: 1, Kind: gatewaydomain.ReportIncrement}
	for i := 0; i < circuitbreaker.DefaultOptions.FailureThreshold; i++ {
		require.Error(t, guarded.ReportUsage(context.Background(), report))
	}

	inner.fail = false
	fake.Advance(circuitbreaker.DefaultOptions.Timeout)

	require.NoError(t, guarded.ReportUsage(context.Background(), report))

	state, err := registry.CircuitState(CircuitUsageReporting)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateHalfOpen, state)
}
