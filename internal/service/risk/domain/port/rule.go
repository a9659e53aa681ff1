package port

import (
	"context"
	"riskgate/internal/service/risk/domain"
)

// RuleInput 是自定义规则可见的全部数据
type RuleInput struct {
	Attempt domain.OrderAttempt
	Profile *domain.RiskProfile
	Signals domain.Signals
}

// RuleEngine 计算配置化的自定义规则命中
type RuleEngine interface {
	Evaluate(ctx context.Context, in RuleInput) []domain.RuleHit
}
