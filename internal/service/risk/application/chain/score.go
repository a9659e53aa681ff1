package chain

import (
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/domain"
)

// ScoreHandler 调用纯评估器并生成评估记录
type ScoreHandler struct {
	NextHandler
}

func (h *ScoreHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Score")

	profile := checkCtx.Projection.Snapshot()
	res, err := checkCtx.Evaluator.Evaluate(profile, checkCtx.Attempt, checkCtx.Signals)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Evaluation failed")
		span.End()
		return err
	}
	checkCtx.Result = res

	attempt := checkCtx.Attempt
	checkCtx.Assessment = &domain.Assessment{
		ID:                uuid.New().String(),
		Email:             attempt.Email,
		LotID:             attempt.LotID,
		Quantity:          attempt.Quantity,
		DeviceFingerprint: attempt.DeviceFingerprint,
		Allowed:           res.Allowed,
		Decision:          res.Decision,
		Flags:             res.Flags,
		Score:             res.Score,
		Tier:              profile.Tier,
		EvaluatedAt:       checkCtx.Now().UTC(),
	}

	flags := make([]string, len(res.Flags))
	for i, f := range res.Flags {
		flags[i] = string(f)
	}
	span.SetAttributes(
		attribute.Int("risk.score", res.Score),
		attribute.String("risk.decision", string(res.Decision)),
		attribute.StringSlice("risk.flags", flags),
	)
	span.End()

	logger.Ctx(ctx).Info().
		Str("email", attempt.Email).
		Str("lot_id", attempt.LotID).
		Int("score", res.Score).
		Str("decision", string(res.Decision)).
		Str("flags", strings.Join(flags, ",")).
		Msg("Order attempt evaluated")

	return h.executeNext(checkCtx)
}
