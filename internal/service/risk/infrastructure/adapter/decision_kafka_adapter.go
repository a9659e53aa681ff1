package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"riskgate/internal/pkg/mq"
	"riskgate/internal/service/risk/domain"
)

// DecisionKafkaAdapter 把评估结果发布到决策主题，按邮箱分区保证同一客户有序
type DecisionKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewDecisionKafkaAdapter(writer mq.MessageWriter) *DecisionKafkaAdapter {
	return &DecisionKafkaAdapter{writer: writer}
}

func (a *DecisionKafkaAdapter) Publish(ctx context.Context, assessment *domain.Assessment) error {
	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}
	// mq.ProduceMessage 会自动注入追踪上下文
	if err := mq.ProduceMessage(ctx, a.writer, []byte(assessment.Email), payload); err != nil {
		return domain.NewDependencyError("kafka", err)
	}
	return nil
}
