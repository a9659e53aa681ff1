package chain

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

// CheckContext 在校验链中传递依赖和中间结果
type CheckContext struct {
	Ctx     context.Context
	Attempt domain.OrderAttempt
	Tracer  trace.Tracer
	Now     func() time.Time

	// 出站端口
	Locker      port.CustomerLocker
	EventLog    domain.EventLog
	Cache       domain.ProfileCache // 可为 nil
	Evaluator   *domain.Evaluator
	Rules       port.RuleEngine // 可为 nil
	Assessments domain.AssessmentRepository
	Publishers  []port.DecisionPublisher

	// 各步骤产出
	Projection *domain.Projection
	Signals    domain.Signals
	Result     domain.Result
	Assessment *domain.Assessment

	releases    []func(ctx context.Context)
	releaseLock sync.Mutex
}

// AddRelease 登记链结束后需要执行的清理 (例如释放锁)，按后进先出执行
func (c *CheckContext) AddRelease(fn func(ctx context.Context)) {
	c.releaseLock.Lock()
	defer c.releaseLock.Unlock()
	c.releases = append([]func(context.Context){fn}, c.releases...)
}

// Release 执行并清空所有清理函数
func (c *CheckContext) Release(ctx context.Context) {
	c.releaseLock.Lock()
	releases := c.releases
	c.releases = nil
	c.releaseLock.Unlock()

	if len(releases) > 0 {
		logger.Ctx(ctx).Debug().Str("email", c.Attempt.Email).Int("count", len(releases)).Msg("Releasing check resources")
	}
	for _, fn := range releases {
		fn(ctx)
	}
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(checkCtx *CheckContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(checkCtx *CheckContext) error {
	if h.next != nil {
		return h.next.Handle(checkCtx)
	}
	return nil
}

// Build 组装完整的校验链：加锁 -> 投影 -> 信号 -> 评分 -> 记录 -> 发布
func Build() Handler {
	head := new(LockHandler)
	head.
		SetNext(new(ProjectionHandler)).
		SetNext(new(SignalsHandler)).
		SetNext(new(ScoreHandler)).
		SetNext(new(RecordHandler)).
		SetNext(new(PublishHandler))
	return head
}
