package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

func input(quantity int, address string) port.RuleInput {
	p := domain.NewRiskProfile("a@x.com")
	p.OrderCount = 4
	p.CancellationCount = 1
	return port.RuleInput{
		Attempt: domain.OrderAttempt{Email: "a@x.com", LotID: "lot-1", Quantity: quantity, Address: address, DeviceFingerprint: "fp"},
		Profile: p.Clone(),
		Signals: domain.Signals{LotOrderCount: 2, DeviceCustomerCount: 1},
	}
}

func TestCELRuleEngine_Hits(t *testing.T) {
	engine, err := NewCELRuleEngine([]Config{
		{Name: "bulk-quantity", Expression: `attempt.quantity >= 10`, Weight: 25},
		{Name: "missing-address", Expression: `attempt.address == ""`, Weight: 10},
		{Name: "some-cancels", Expression: `profile.cancellationRatio > 0.2 && signals.lotOrderCount > 1`, Weight: 5},
		{Name: "known-device", Expression: `attempt.deviceFingerprint in profile.deviceFingerprints`, Weight: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, engine.Len())

	hits := engine.Evaluate(context.Background(), input(12, ""))
	assert.Equal(t, []domain.RuleHit{
		{Flag: "bulk-quantity", Weight: 25},
		{Flag: "missing-address", Weight: 10},
		{Flag: "some-cancels", Weight: 5},
	}, hits)

	hits = engine.Evaluate(context.Background(), input(1, "1 Farm Road"))
	assert.Equal(t, []domain.RuleHit{{Flag: "some-cancels", Weight: 5}}, hits)
}

func TestCELRuleEngine_NilProfile(t *testing.T) {
	engine, err := NewCELRuleEngine([]Config{{Name: "first-order", Expression: `profile.orderCount == 0`, Weight: 5}})
	require.NoError(t, err)

	in := input(1, "")
	in.Profile = nil
	assert.Len(t, engine.Evaluate(context.Background(), in), 1)
}

func TestCELRuleEngine_RuntimeErrorSkipsRule(t *testing.T) {
	engine, err := NewCELRuleEngine([]Config{
		{Name: "broken", Expression: `attempt.nonexistent > 1`, Weight: 50},
		{Name: "ok", Expression: `true`, Weight: 1},
	})
	require.NoError(t, err)

	hits := engine.Evaluate(context.Background(), input(1, ""))
	assert.Equal(t, []domain.RuleHit{{Flag: "ok", Weight: 1}}, hits)
}

func TestCELRuleEngine_InvalidConfigs(t *testing.T) {
	cases := map[string]Config{
		"syntax":        {Name: "x", Expression: `attempt.quantity >`, Weight: 1},
		"not bool":      {Name: "x", Expression: `attempt.quantity + 1`, Weight: 1},
		"builtin clash": {Name: string(domain.FlagBlacklisted), Expression: `true`, Weight: 1},
		"empty name":    {Name: " ", Expression: `true`, Weight: 1},
		"negative":      {Name: "x", Expression: `true`, Weight: -1},
		"unknown var":   {Name: "x", Expression: `order.total > 1`, Weight: 1},
	}
	for name, c := range cases {
		_, err := NewCELRuleEngine([]Config{c})
		assert.Error(t, err, name)
	}

	_, err := NewCELRuleEngine([]Config{{Name: "dup", Expression: "true"}, {Name: "dup", Expression: "false"}})
	assert.Error(t, err)
}

func TestCELRuleEngine_Empty(t *testing.T) {
	engine, err := NewCELRuleEngine(nil)
	require.NoError(t, err)
	assert.Nil(t, engine.Evaluate(context.Background(), input(1, "")))
}
