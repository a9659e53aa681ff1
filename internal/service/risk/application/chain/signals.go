package chain

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"riskgate/internal/service/risk/domain/port"
)

// SignalsHandler 计算评估需要的外部计数：设备关联的客户数、本批次订单数、自定义规则命中
type SignalsHandler struct {
	NextHandler
}

func (h *SignalsHandler) Handle(checkCtx *CheckContext) error {
	ctx, span := checkCtx.Tracer.Start(checkCtx.Ctx, "chain.Signals")

	attempt := checkCtx.Attempt
	var deviceCustomers, lotOrders int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if attempt.DeviceFingerprint == "" {
			return nil
		}
		n, err := checkCtx.EventLog.CountCustomersByDevice(gctx, attempt.DeviceFingerprint)
		if err != nil {
			return err
		}
		deviceCustomers = n
		return nil
	})
	g.Go(func() error {
		// 已有的有效订单加上本次尝试
		lotOrders = checkCtx.Projection.ActiveLotOrders(attempt.LotID) + 1
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to collect risk signals")
		span.End()
		return err
	}

	checkCtx.Signals.DeviceCustomerCount = deviceCustomers
	checkCtx.Signals.LotOrderCount = lotOrders
	if checkCtx.Rules != nil {
		checkCtx.Signals.RuleHits = checkCtx.Rules.Evaluate(ctx, port.RuleInput{
			Attempt: attempt,
			Profile: checkCtx.Projection.Snapshot(),
			Signals: checkCtx.Signals,
		})
	}

	span.SetAttributes(
		attribute.Int("signals.device_customers", deviceCustomers),
		attribute.Int("signals.lot_orders", lotOrders),
		attribute.Int("signals.rule_hits", len(checkCtx.Signals.RuleHits)),
	)
	span.End()

	return h.executeNext(checkCtx)
}
