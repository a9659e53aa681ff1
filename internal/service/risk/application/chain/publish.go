package chain

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"riskgate/internal/pkg/logger"
)

// PublishHandler 把评估结果交给所有发布者 (Kafka、审核台、指标)，尽力而为
type PublishHandler struct {
	NextHandler
}

func (h *PublishHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Publish")

	for _, p := range checkCtx.Publishers {
		if err := p.Publish(ctx, checkCtx.Assessment); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to publish decision")
			logger.Ctx(ctx).Warn().Err(err).
				Str("publisher", fmt.Sprintf("%T", p)).
				Str("assessment_id", checkCtx.Assessment.ID).
				Msg("Failed to publish decision")
		}
	}
	span.End()

	return h.executeNext(checkCtx)
}
