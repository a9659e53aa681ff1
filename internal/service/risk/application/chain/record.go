package chain

import (
	"go.opentelemetry.io/otel/codes"

	"riskgate/internal/pkg/logger"
)

// RecordHandler 持久化评估记录。失败只记录日志，不改变返回给下单流程的决策。
type RecordHandler struct {
	NextHandler
}

func (h *RecordHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Record")

	if checkCtx.Assessments != nil {
		if err := checkCtx.Assessments.Record(ctx, checkCtx.Assessment); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to record assessment")
			logger.Ctx(ctx).Error().Err(err).Str("assessment_id", checkCtx.Assessment.ID).Msg("Failed to record assessment")
		}
	}
	span.End()

	return h.executeNext(checkCtx)
}
