// internal/pkg/mq/failure.go
package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"riskgate/internal/pkg/logger"
)

// 转发到重试/死信主题时附带的消息头
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
	HeaderRetryCount        = "x-retry-count"
)

// FailureHandler 处理消费失败的消息：可重试的错误进入重试主题，
// 超过最大重试次数或不可重试的错误进入死信主题。
type FailureHandler struct {
	retryWriter MessageWriter
	dltWriter   MessageWriter
	maxRetries  int

	// Retryable 判断错误是否值得重试，为 nil 时全部重试
	Retryable func(err error) bool
}

func NewFailureHandler(retryWriter, dltWriter MessageWriter, maxRetries int) *FailureHandler {
	return &FailureHandler{
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
		maxRetries:  maxRetries,
	}
}

// Handle 转发失败消息。转发本身失败时返回错误，由调用方决定是否提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, procErr error) error {
	retries, _ := strconv.Atoi(HeaderValue(msg.Headers, HeaderRetryCount))

	retryable := h.Retryable == nil || h.Retryable(procErr)
	toDLT := !retryable || retries >= h.maxRetries || h.retryWriter == nil

	out := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: h.failureHeaders(msg, procErr, retries+1),
	}

	target, writer := "retry", h.retryWriter
	if toDLT {
		target, writer = "dlt", h.dltWriter
	}

	logger.Ctx(ctx).Warn().Err(procErr).
		Str("topic", msg.Topic).
		Int64("offset", msg.Offset).
		Int("retry_count", retries).
		Str("target", target).
		Msg("Message processing failed, forwarding")

	if writer == nil {
		return fmt.Errorf("no %s writer configured for failed message at %s/%d", target, msg.Topic, msg.Offset)
	}
	if err := writer.WriteMessages(ctx, out); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("target", target).Msg("Failed to forward failed message")
		return err
	}
	return nil
}

func (h *FailureHandler) failureHeaders(msg kafka.Message, procErr error, retryCount int) []kafka.Header {
	carrier := KafkaHeaderCarrier(append([]kafka.Header{}, msg.Headers...))

	// 首次失败时记录原始位置，重试链路上保留第一次的值
	if carrier.Get(HeaderOriginalTopic) == "" {
		carrier.Set(HeaderOriginalTopic, msg.Topic)
		carrier.Set(HeaderOriginalPartition, strconv.Itoa(msg.Partition))
		carrier.Set(HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	}
	carrier.Set(HeaderExceptionFqcn, fmt.Sprintf("%T", procErr))
	carrier.Set(HeaderExceptionMessage, procErr.Error())
	carrier.Set(HeaderRetryCount, strconv.Itoa(retryCount))
	return carrier
}
