package port

import (
	"context"
	"riskgate/internal/service/risk/domain"
)

// DecisionPublisher 是评估结果的出站端口 (Kafka、审核台推送等)。
// 发布是尽力而为的，失败不影响返回给下单流程的决策。
type DecisionPublisher interface {
	Publish(ctx context.Context, a *domain.Assessment) error
}
