package chain

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"riskgate/internal/pkg/logger"
)

// LockHandler 获取客户锁，保证同一客户的计数读取与决策串行
type LockHandler struct {
	NextHandler
}

func (h *LockHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Lock")
	span.SetAttributes(attribute.String("customer.email", checkCtx.Attempt.Email))

	unlock, err := checkCtx.Locker.Lock(ctx, checkCtx.Attempt.Email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to acquire customer lock")
		span.End()
		return err
	}
	span.End()

	email := checkCtx.Attempt.Email
	checkCtx.AddRelease(func(ctx context.Context) {
		if err := unlock(ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("email", email).Msg("Failed to release customer lock")
		}
	})

	return h.executeNext(checkCtx)
}
