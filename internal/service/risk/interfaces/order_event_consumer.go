package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/pkg/mq"
	"riskgate/internal/service/risk/application"
	"riskgate/internal/service/risk/domain"
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LifecycleHandler 处理一条订单生命周期事件
type LifecycleHandler interface {
	HandleLifecycleEvent(ctx context.Context, event *application.OrderLifecycleEvent) error
}

// OrderEventConsumerAdapter 监听订单生命周期主题并把事件写入档案日志。
// 处理失败的消息交给 FailureHandler 转发到重试主题或死信主题。
type OrderEventConsumerAdapter struct {
	reader   MessageReader
	handler  LifecycleHandler
	failures *mq.FailureHandler
	tracer   trace.Tracer
	topic    string

	// delay 不为 0 时，消息在写入时间之后 delay 才处理 (用于重试主题)
	delay time.Duration

	wg sync.WaitGroup
}

func NewOrderEventConsumerAdapter(reader MessageReader, topic string, handler LifecycleHandler, failures *mq.FailureHandler, tracer trace.Tracer) *OrderEventConsumerAdapter {
	return &OrderEventConsumerAdapter{
		reader:   reader,
		handler:  handler,
		failures: failures,
		tracer:   tracer,
		topic:    topic,
	}
}

// SetDelay 设置重试主题的处理延迟
func (a *OrderEventConsumerAdapter) SetDelay(d time.Duration) *OrderEventConsumerAdapter {
	a.delay = d
	return a
}

// Retryable 校验错误和未知订单重试也不会成功，直接进死信
func Retryable(err error) bool {
	return !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound)
}

// Start 开始监听 Kafka 主题，ctx 取消时退出
func (a *OrderEventConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("Order event consumer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("Order event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("Could not fetch message, retrying")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}

			if a.delay > 0 && !sleepCtx(ctx, time.Until(msg.Time.Add(a.delay))) {
				return
			}

			if err := a.processMessage(ctx, msg); err != nil {
				// 转发失败时不提交，重启后会重新消费
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to forward message, offset not committed")
				continue
			}
			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit message")
			}
		}
	}()
}

// Stop 关闭 reader 并等待消费协程退出
func (a *OrderEventConsumerAdapter) Stop(ctx context.Context) error {
	err := a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("Order event consumer stopped")
	return err
}

// processMessage 处理一条消息。只有在失败消息无法转发时才返回错误。
func (a *OrderEventConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) error {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := a.tracer.Start(ctx, "risk-service.ConsumeOrderEvent",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	procErr := a.handle(ctx, msg)
	if procErr == nil {
		return nil
	}
	span.RecordError(procErr)
	span.SetStatus(codes.Error, "Failed to process order event")

	if a.failures == nil {
		logger.Ctx(ctx).Error().Err(procErr).Int64("offset", msg.Offset).Msg("Order event dropped")
		return nil
	}
	return a.failures.Handle(ctx, msg, procErr)
}

func (a *OrderEventConsumerAdapter) handle(ctx context.Context, msg kafka.Message) error {
	var event application.OrderLifecycleEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return domain.NewValidationError("message", err.Error())
	}
	return a.handler.HandleLifecycleEvent(ctx, &event)
}

// sleepCtx 等待 d，ctx 取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
