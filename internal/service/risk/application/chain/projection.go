package chain

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/domain"
)

// ProjectionHandler 加载客户的最新投影
type ProjectionHandler struct {
	NextHandler
}

func (h *ProjectionHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Projection")

	p, err := LoadProjection(ctx, checkCtx.EventLog, checkCtx.Cache, checkCtx.Attempt.Email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load risk profile")
		span.End()
		return err
	}
	checkCtx.Projection = p
	span.SetAttributes(
		attribute.Int("profile.orders", p.Profile.OrderCount),
		attribute.Int("profile.cancellations", p.Profile.CancellationCount),
		attribute.Int64("profile.last_seq", p.LastSeq),
	)
	span.End()

	return h.executeNext(checkCtx)
}

// LoadProjection 先读缓存快照，再从日志补齐之后的事件。
// 缓存只是优化：未命中或出错都回退到全量重放，日志出错才返回 DependencyError。
func LoadProjection(ctx context.Context, log domain.EventLog, cache domain.ProfileCache, email string) (*domain.Projection, error) {
	var p *domain.Projection
	if cache != nil {
		cached, err := cache.Get(ctx, email)
		switch {
		case err == nil:
			p = cached
		case errors.Is(err, domain.ErrNotFound):
		default:
			logger.Ctx(ctx).Warn().Err(err).Str("email", email).Msg("Projection cache unavailable, replaying from log")
		}
	}
	if p == nil {
		p = domain.NewProjection(email)
	}

	tail, err := log.EventsSince(ctx, email, p.LastSeq)
	if err != nil {
		return nil, err
	}
	for _, e := range tail {
		p.Apply(e)
	}

	if cache != nil && len(tail) > 0 {
		StoreProjection(ctx, cache, email, p)
	}
	return p, nil
}

// StoreProjection 尽力写回缓存
func StoreProjection(ctx context.Context, cache domain.ProfileCache, email string, p *domain.Projection) {
	if cache == nil {
		return
	}
	if err := cache.Set(ctx, email, p); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("email", email).Msg("Failed to refresh projection cache")
	}
}
