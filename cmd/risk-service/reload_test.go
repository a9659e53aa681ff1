package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"riskgate/internal/service/risk/application"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/infrastructure"
	"riskgate/internal/service/risk/infrastructure/adapter"
)

func newReloadService(t *testing.T) *application.RiskApplicationService {
	t.Helper()
	svc, err := application.NewRiskApplicationService(application.Dependencies{
		EventLog:    infrastructure.NewMemoryEventLog(),
		Assessments: infrastructure.NewMemoryAssessmentRepository(),
		Locker:      adapter.NewLocalCustomerLocker(),
		Tracer:      noop.NewTracerProvider().Tracer("test"),
	}, domain.DefaultScoringConfig(), time.Second)
	require.NoError(t, err)
	return svc
}

func TestReloadRisk_BadRuleKeepsScoring(t *testing.T) {
	svc := newReloadService(t)

	err := reloadRisk(svc, load(t, `
risk:
  scoring:
    weights:
      excessive-orders: 60
    review_threshold: 50
  rules:
    - name: broken
      expression: "1 +"
      weight: 5
`))
	require.Error(t, err)
	assert.Equal(t, domain.DefaultScoringConfig(), svc.ScoringConfig())
	assert.Equal(t, 20, svc.ScoringConfig().Weights[domain.FlagExcessiveOrders])
}

func TestReloadRisk_BadScoringKeepsRules(t *testing.T) {
	svc := newReloadService(t)
	require.NoError(t, reloadRisk(svc, load(t, `
risk:
  rules:
    - name: bulk-quantity
      expression: attempt.quantity >= 10
      weight: 35
`)))

	err := reloadRisk(svc, load(t, `
risk:
  scoring:
    review_threshold: 90
`))
	require.Error(t, err)

	resp, err := svc.CheckOrderAttempt(context.Background(), &application.CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{"bulk-quantity"}, resp.Flags)
}

func TestReloadRisk_AppliesValidConfig(t *testing.T) {
	svc := newReloadService(t)

	require.NoError(t, reloadRisk(svc, load(t, `
risk:
  scoring:
    weights:
      excessive-orders: 60
    review_threshold: 50
  rules:
    - name: bulk-quantity
      expression: attempt.quantity >= 10
      weight: 35
`)))
	assert.Equal(t, 60, svc.ScoringConfig().Weights[domain.FlagExcessiveOrders])
	assert.Equal(t, 50, svc.ScoringConfig().ReviewThreshold)

	resp, err := svc.CheckOrderAttempt(context.Background(), &application.CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{"bulk-quantity"}, resp.Flags)
	assert.Equal(t, domain.DecisionAllow, resp.Decision)

	// 去掉规则后引擎随之清空
	require.NoError(t, reloadRisk(svc, load(t, "risk:\n  store: memory\n")))
	resp, err = svc.CheckOrderAttempt(context.Background(), &application.CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Empty(t, resp.Flags)
}
