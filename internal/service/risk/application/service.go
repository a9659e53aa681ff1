// internal/service/risk/application/service.go
package application

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"riskgate/internal/pkg/logger"
	"riskgate/internal/service/risk/application/chain"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

const (
	defaultAssessmentLimit = 20
	maxAssessmentLimit     = 100
)

// Dependencies 是应用服务依赖的出站端口
type Dependencies struct {
	EventLog    domain.EventLog
	Assessments domain.AssessmentRepository
	Cache       domain.ProfileCache // 可选
	Locker      port.CustomerLocker
	Rules       port.RuleEngine // 可选
	Publishers  []port.DecisionPublisher
	Tracer      trace.Tracer
}

// RiskApplicationService 编排风险档案的读写和下单校验流程
type RiskApplicationService struct {
	deps         Dependencies
	checkTimeout time.Duration
	now          func() time.Time

	scoring atomic.Pointer[scoringState]
	chain   chain.Handler
}

// scoringState 评估器和自定义规则总是一起替换，校验看到的是同一版本的配置
type scoringState struct {
	evaluator *domain.Evaluator
	rules     port.RuleEngine
}

func NewRiskApplicationService(deps Dependencies, scoring domain.ScoringConfig, checkTimeout time.Duration) (*RiskApplicationService, error) {
	ev, err := domain.NewEvaluator(scoring)
	if err != nil {
		return nil, domain.NewValidationError("scoring", err.Error())
	}
	s := &RiskApplicationService{
		deps:         deps,
		checkTimeout: checkTimeout,
		now:          time.Now,
		chain:        chain.Build(),
	}
	s.scoring.Store(&scoringState{evaluator: ev, rules: deps.Rules})
	return s, nil
}

// SetClock 替换时钟，测试使用
func (s *RiskApplicationService) SetClock(now func() time.Time) {
	s.now = now
}

// UpdateScoring 校验新配置并原子替换评估器，自定义规则保持不变
func (s *RiskApplicationService) UpdateScoring(cfg domain.ScoringConfig) error {
	ev, err := domain.NewEvaluator(cfg)
	if err != nil {
		return domain.NewValidationError("scoring", err.Error())
	}
	for {
		old := s.scoring.Load()
		if s.scoring.CompareAndSwap(old, &scoringState{evaluator: ev, rules: old.rules}) {
			return nil
		}
	}
}

// UpdateRules 原子替换自定义规则引擎，评估器保持不变
func (s *RiskApplicationService) UpdateRules(engine port.RuleEngine) {
	for {
		old := s.scoring.Load()
		if s.scoring.CompareAndSwap(old, &scoringState{evaluator: old.evaluator, rules: engine}) {
			return
		}
	}
}

// Reload 同时替换评分配置和自定义规则；配置无效时返回错误，旧配置继续生效
func (s *RiskApplicationService) Reload(cfg domain.ScoringConfig, engine port.RuleEngine) error {
	ev, err := domain.NewEvaluator(cfg)
	if err != nil {
		return domain.NewValidationError("scoring", err.Error())
	}
	s.scoring.Store(&scoringState{evaluator: ev, rules: engine})
	return nil
}

func (s *RiskApplicationService) ScoringConfig() domain.ScoringConfig {
	return s.scoring.Load().evaluator.Config()
}

// CheckOrderAttempt 校验一次下单尝试并返回决策
func (s *RiskApplicationService) CheckOrderAttempt(ctx context.Context, req *CheckRequest) (*CheckResponse, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.CheckOrderAttempt")
	defer span.End()

	attempt := req.ToAttempt()
	if err := attempt.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Invalid order attempt")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("customer.email", attempt.Email),
		attribute.String("lot.id", attempt.LotID),
		attribute.Int("order.quantity", attempt.Quantity),
	)

	checkCtx := ctx
	if s.checkTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, s.checkTimeout)
		defer cancel()
	}

	state := s.scoring.Load()
	cc := &chain.CheckContext{
		Ctx:         checkCtx,
		Attempt:     attempt,
		Tracer:      s.deps.Tracer,
		Now:         s.now,
		Locker:      s.deps.Locker,
		EventLog:    s.deps.EventLog,
		Cache:       s.deps.Cache,
		Evaluator:   state.evaluator,
		Rules:       state.rules,
		Assessments: s.deps.Assessments,
		Publishers:  s.deps.Publishers,
	}
	// 即使校验超时也要释放锁
	defer cc.Release(context.WithoutCancel(ctx))

	if err := s.chain.Handle(cc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Order attempt check failed")
		logger.Ctx(ctx).Error().Err(err).Str("email", attempt.Email).Msg("Order attempt check failed")
		return nil, err
	}

	a := cc.Assessment
	return &CheckResponse{
		AssessmentID: a.ID,
		Allowed:      a.Allowed,
		Decision:     a.Decision,
		Flags:        a.Flags,
		Score:        a.Score,
		Tier:         a.Tier,
	}, nil
}

// RecordOrderPlaced 追加下单事件。同一订单号重复提交时直接返回当前档案。
func (s *RiskApplicationService) RecordOrderPlaced(ctx context.Context, req *OrderPlacedRequest) (*domain.RiskProfile, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.RecordOrderPlaced")
	defer span.End()

	req.normalize()
	if err := req.validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("customer.email", req.Email), attribute.String("order.id", req.OrderID))

	return s.mutate(ctx, req.Email, func(p *domain.Projection) (*domain.ProfileEvent, error) {
		if p.HasOrder(req.OrderID) {
			span.AddEvent("Duplicate order placement ignored")
			return nil, nil
		}
		return domain.NewOrderPlacedEvent(req.Email, req.OrderID, req.LotID, req.Quantity, req.DeviceFingerprint, s.eventTime(req.OccurredAt)), nil
	})
}

// RecordOrderCancelled 追加取消事件。未知订单返回 NotFoundError，重复取消不做处理。
func (s *RiskApplicationService) RecordOrderCancelled(ctx context.Context, req *OrderCancelledRequest) (*domain.RiskProfile, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.RecordOrderCancelled")
	defer span.End()

	req.normalize()
	if err := req.validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("customer.email", req.Email), attribute.String("order.id", req.OrderID))

	return s.mutate(ctx, req.Email, func(p *domain.Projection) (*domain.ProfileEvent, error) {
		if !p.HasOrder(req.OrderID) {
			return nil, domain.ErrOrderNotFound.WithKey(req.OrderID)
		}
		if p.IsCancelled(req.OrderID) {
			span.AddEvent("Order already cancelled")
			return nil, nil
		}
		return domain.NewOrderCancelledEvent(req.Email, req.OrderID, req.Reason, s.eventTime(req.OccurredAt)), nil
	})
}

// SetBlacklist 只在状态变化时追加事件
func (s *RiskApplicationService) SetBlacklist(ctx context.Context, req *BlacklistRequest) (*domain.RiskProfile, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.SetBlacklist")
	defer span.End()

	email := domain.NormalizeEmail(req.Email)
	if email == "" {
		err := domain.NewValidationError("email", "must not be empty")
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("customer.email", email), attribute.Bool("blacklisted", req.Blacklisted))

	return s.mutate(ctx, email, func(p *domain.Projection) (*domain.ProfileEvent, error) {
		cur := p.Profile
		if cur.Blacklisted == req.Blacklisted && (!req.Blacklisted || cur.BlacklistReason == req.Reason) {
			return nil, nil
		}
		return domain.NewBlacklistEvent(email, req.Blacklisted, req.Reason, s.now().UTC()), nil
	})
}

// GetProfile 返回客户档案。没有任何事件的客户返回全新的默认档案。
func (s *RiskApplicationService) GetProfile(ctx context.Context, email string) (*domain.RiskProfile, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.GetProfile")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.NewValidationError("email", "must not be empty")
	}
	p, err := chain.LoadProjection(ctx, s.deps.EventLog, s.deps.Cache, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load risk profile")
		return nil, err
	}
	return p.Snapshot(), nil
}

// ListAssessments 返回最近的评估记录
func (s *RiskApplicationService) ListAssessments(ctx context.Context, email string, limit int) ([]*domain.Assessment, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "app.ListAssessments")
	defer span.End()

	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.NewValidationError("email", "must not be empty")
	}
	if limit <= 0 {
		limit = defaultAssessmentLimit
	}
	if limit > maxAssessmentLimit {
		limit = maxAssessmentLimit
	}
	list, err := s.deps.Assessments.ListByEmail(ctx, email, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return list, nil
}

// HandleLifecycleEvent 是 Kafka 订单生命周期消息的入口
func (s *RiskApplicationService) HandleLifecycleEvent(ctx context.Context, event *OrderLifecycleEvent) error {
	switch domain.EventType(event.Type) {
	case domain.EventOrderPlaced:
		_, err := s.RecordOrderPlaced(ctx, &OrderPlacedRequest{
			Email:             event.Email,
			OrderID:           event.OrderID,
			LotID:             event.LotID,
			Quantity:          event.Quantity,
			DeviceFingerprint: event.DeviceFingerprint,
			OccurredAt:        event.OccurredAt,
		})
		return err
	case domain.EventOrderCancelled:
		_, err := s.RecordOrderCancelled(ctx, &OrderCancelledRequest{
			Email:      event.Email,
			OrderID:    event.OrderID,
			Reason:     event.Reason,
			OccurredAt: event.OccurredAt,
		})
		return err
	default:
		return domain.NewValidationError("type", "unsupported lifecycle event "+event.Type)
	}
}

// mutate 在客户锁内加载投影，由 decide 决定是否追加事件，然后写回缓存。
// decide 返回 nil 事件表示无需变更。
func (s *RiskApplicationService) mutate(ctx context.Context, email string, decide func(p *domain.Projection) (*domain.ProfileEvent, error)) (*domain.RiskProfile, error) {
	span := trace.SpanFromContext(ctx)

	unlock, err := s.deps.Locker.Lock(ctx, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to acquire customer lock")
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("email", email).Msg("Failed to release customer lock")
		}
	}()

	p, err := chain.LoadProjection(ctx, s.deps.EventLog, s.deps.Cache, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to load risk profile")
		return nil, err
	}

	event, err := decide(p)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if event == nil {
		return p.Snapshot(), nil
	}

	if err := s.deps.EventLog.Append(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to append profile event")
		return nil, err
	}
	p.Apply(event)
	chain.StoreProjection(ctx, s.deps.Cache, email, p)

	logger.Ctx(ctx).Info().
		Str("email", email).
		Str("event_type", string(event.Type)).
		Int64("seq", event.Seq).
		Msg("Profile event appended")
	return p.Snapshot(), nil
}

func (s *RiskApplicationService) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}
