package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
	"riskgate/internal/service/risk/infrastructure"
	"riskgate/internal/service/risk/infrastructure/adapter"
	"riskgate/internal/service/risk/infrastructure/rule"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	got []*domain.Assessment
}

func (p *recordingPublisher) Publish(_ context.Context, a *domain.Assessment) error {
	p.got = append(p.got, a)
	return nil
}

type fixture struct {
	svc    *RiskApplicationService
	log    *infrastructure.MemoryEventLog
	repo   *infrastructure.MemoryAssessmentRepository
	locker *adapter.LocalCustomerLocker
	pub    *recordingPublisher
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		log:    infrastructure.NewMemoryEventLog(),
		repo:   infrastructure.NewMemoryAssessmentRepository(),
		locker: adapter.NewLocalCustomerLocker(),
		pub:    &recordingPublisher{},
	}
	svc, err := NewRiskApplicationService(Dependencies{
		EventLog:    f.log,
		Assessments: f.repo,
		Locker:      f.locker,
		Publishers:  []port.DecisionPublisher{f.pub},
		Tracer:      noop.NewTracerProvider().Tracer("test"),
	}, domain.DefaultScoringConfig(), timeout)
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return now })
	f.svc = svc
	return f
}

func (f *fixture) place(t *testing.T, email, orderID, lot, fp string) {
	t.Helper()
	_, err := f.svc.RecordOrderPlaced(context.Background(), &OrderPlacedRequest{
		Email: email, OrderID: orderID, LotID: lot, Quantity: 1, DeviceFingerprint: fp,
	})
	require.NoError(t, err)
}

func (f *fixture) cancel(t *testing.T, email, orderID string) {
	t.Helper()
	_, err := f.svc.RecordOrderCancelled(context.Background(), &OrderCancelledRequest{Email: email, OrderID: orderID})
	require.NoError(t, err)
}

func TestCheckOrderAttempt_FreshCustomerAllowed(t *testing.T) {
	f := newFixture(t, time.Second)

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: " New@X.com ", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
	assert.Equal(t, domain.DecisionAllow, resp.Decision)
	assert.Equal(t, 0, resp.Score)
	assert.Empty(t, resp.Flags)
	assert.Equal(t, domain.TierNew, resp.Tier)
	assert.NotEmpty(t, resp.AssessmentID)

	list, err := f.svc.ListAssessments(context.Background(), "new@x.com", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, resp.AssessmentID, list[0].ID)
	assert.Len(t, f.pub.got, 1)
}

func TestCheckOrderAttempt_InvalidQuantity(t *testing.T) {
	f := newFixture(t, time.Second)

	for _, q := range []int{0, -1} {
		_, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: q})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	assert.Empty(t, f.pub.got)
}

func TestCheckOrderAttempt_RapidCancelPattern(t *testing.T) {
	f := newFixture(t, time.Second)
	for i := 0; i < 10; i++ {
		f.place(t, "c@x.com", fmt.Sprintf("o%d", i), fmt.Sprintf("lot-%d", i), "")
	}
	for i := 0; i < 6; i++ {
		f.cancel(t, "c@x.com", fmt.Sprintf("o%d", i))
	}

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "c@x.com", LotID: "lot-x", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{domain.FlagRapidCancelPattern}, resp.Flags)
	assert.Equal(t, domain.DecisionReview, resp.Decision)
	assert.True(t, resp.Allowed)
	assert.GreaterOrEqual(t, resp.Score, 40)
	assert.Less(t, resp.Score, 70)
	assert.Equal(t, domain.TierFlagged, resp.Tier)
}

func TestCheckOrderAttempt_SharedDeviceAndExcessiveOrders(t *testing.T) {
	f := newFixture(t, time.Second)
	for i, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		f.place(t, email, fmt.Sprintf("d%d", i), "lot-0", "fp-1")
	}
	for i := 0; i < 3; i++ {
		f.place(t, "d@x.com", fmt.Sprintf("o%d", i), "lot-1", "")
	}

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{
		Email: "d@x.com", LotID: "lot-1", Quantity: 1, DeviceFingerprint: "fp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{domain.FlagSharedDeviceAbuse, domain.FlagExcessiveOrders}, resp.Flags)
	assert.Equal(t, 50, resp.Score)
	assert.Equal(t, domain.DecisionReview, resp.Decision)

	// 取消一单后本批次不再超限
	f.cancel(t, "d@x.com", "o0")
	resp, err = f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "d@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.Empty(t, resp.Flags)
}

func TestCheckOrderAttempt_Blacklisted(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.svc.SetBlacklist(context.Background(), &BlacklistRequest{Email: "bad@x.com", Blacklisted: true, Reason: "chargeback"})
	require.NoError(t, err)

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "bad@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.False(t, resp.Allowed)
	assert.Equal(t, domain.DecisionReject, resp.Decision)
	assert.Equal(t, []domain.RiskFlag{domain.FlagBlacklisted}, resp.Flags)
	assert.Equal(t, domain.TierBlocked, resp.Tier)

	_, err = f.svc.SetBlacklist(context.Background(), &BlacklistRequest{Email: "bad@x.com", Blacklisted: false})
	require.NoError(t, err)
	resp, err = f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "bad@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.True(t, resp.Allowed)
}

func TestCheckOrderAttempt_LockTimeout(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	unlock, err := f.locker.Lock(context.Background(), "a@x.com")
	require.NoError(t, err)
	defer unlock(context.Background())

	_, err = f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
	assert.ErrorIs(t, err, port.ErrLockTimeout)
	assert.Empty(t, f.pub.got)
}

func TestCheckOrderAttempt_CustomRules(t *testing.T) {
	f := newFixture(t, time.Second)
	engine, err := rule.NewCELRuleEngine([]rule.Config{
		{Name: "bulk-quantity", Expression: `attempt.quantity >= 10`, Weight: 35},
	})
	require.NoError(t, err)
	f.svc.UpdateRules(engine)

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{"bulk-quantity"}, resp.Flags)
	assert.Equal(t, domain.DecisionReview, resp.Decision)

	f.svc.UpdateRules(nil)
	resp, err = f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Empty(t, resp.Flags)
}

func TestUpdateScoring(t *testing.T) {
	f := newFixture(t, time.Second)
	for i := 0; i < 3; i++ {
		f.place(t, "a@x.com", fmt.Sprintf("o%d", i), "lot-1", "")
	}

	cfg := domain.DefaultScoringConfig()
	cfg.Weights[domain.FlagExcessiveOrders] = 80
	require.NoError(t, f.svc.UpdateScoring(cfg))
	assert.Equal(t, 80, f.svc.ScoringConfig().Weights[domain.FlagExcessiveOrders])

	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, resp.Decision)

	bad := domain.DefaultScoringConfig()
	bad.ReviewThreshold = 90
	err = f.svc.UpdateScoring(bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 80, f.svc.ScoringConfig().Weights[domain.FlagExcessiveOrders])
}

func TestReload_SwapsScoringAndRulesTogether(t *testing.T) {
	f := newFixture(t, time.Second)
	engine, err := rule.NewCELRuleEngine([]rule.Config{
		{Name: "bulk-quantity", Expression: `attempt.quantity >= 10`, Weight: 35},
	})
	require.NoError(t, err)

	bad := domain.DefaultScoringConfig()
	bad.Weights[domain.FlagExcessiveOrders] = 60
	bad.ReviewThreshold = 90
	err = f.svc.Reload(bad, engine)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.DefaultScoringConfig(), f.svc.ScoringConfig())

	// 失败的重载不会让规则先行生效
	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Empty(t, resp.Flags)

	cfg := domain.DefaultScoringConfig()
	cfg.ReviewThreshold = 40
	require.NoError(t, f.svc.Reload(cfg, engine))
	assert.Equal(t, 40, f.svc.ScoringConfig().ReviewThreshold)

	resp, err = f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 12})
	require.NoError(t, err)
	assert.Equal(t, []domain.RiskFlag{"bulk-quantity"}, resp.Flags)
	assert.Equal(t, domain.DecisionAllow, resp.Decision)
}

func TestCheckAndRecord_ConcurrentSameCustomer(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	engine, err := rule.NewCELRuleEngine([]rule.Config{
		{Name: "lot-hoarding", Expression: `signals.lotOrderCount >= 5`, Weight: 10},
	})
	require.NoError(t, err)
	f.svc.UpdateRules(engine)
	for i := 0; i < 3; i++ {
		f.place(t, "a@x.com", fmt.Sprintf("o%d", i), "lot-1", "")
	}

	const checks = 8
	var wg sync.WaitGroup
	errs := make(chan error, checks+1)
	resps := make(chan *CheckResponse, checks)
	for i := 0; i < checks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
			if err != nil {
				errs <- err
				return
			}
			resps <- resp
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.svc.RecordOrderPlaced(context.Background(), &OrderPlacedRequest{
			Email: "a@x.com", OrderID: "o3", LotID: "lot-1", Quantity: 1,
		})
		if err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	close(resps)

	for err := range errs {
		require.NoError(t, err)
	}
	// 每次校验看到的要么是记录前（3 单）要么是记录后（4 单）的完整档案
	for resp := range resps {
		assert.Contains(t, resp.Flags, domain.FlagExcessiveOrders)
		assert.True(t, resp.Allowed)
		if len(resp.Flags) == 2 {
			assert.Contains(t, resp.Flags, domain.RiskFlag("lot-hoarding"))
		}
	}

	profile, err := f.svc.GetProfile(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 4, profile.OrderCount)

	// 记录完成后的校验一定能看到新订单
	resp, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, err)
	assert.Contains(t, resp.Flags, domain.RiskFlag("lot-hoarding"))
	assert.Contains(t, resp.Flags, domain.FlagExcessiveOrders)
}

func TestRecordOrderPlaced_Idempotent(t *testing.T) {
	f := newFixture(t, time.Second)
	f.place(t, "a@x.com", "o1", "lot-1", "fp")
	profile, err := f.svc.RecordOrderPlaced(context.Background(), &OrderPlacedRequest{
		Email: "A@x.com", OrderID: "o1", LotID: "lot-1", Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, profile.OrderCount)
	assert.Equal(t, []string{"fp"}, profile.DeviceFingerprints)

	events, err := f.log.EventsSince(context.Background(), "a@x.com", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordOrderPlaced_Validation(t *testing.T) {
	f := newFixture(t, time.Second)
	cases := []OrderPlacedRequest{
		{OrderID: "o1", LotID: "lot-1", Quantity: 1},
		{Email: "a@x.com", LotID: "lot-1", Quantity: 1},
		{Email: "a@x.com", OrderID: "o1", Quantity: 1},
		{Email: "a@x.com", OrderID: "o1", LotID: "lot-1"},
	}
	for _, req := range cases {
		req := req
		_, err := f.svc.RecordOrderPlaced(context.Background(), &req)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestRecordOrderCancelled(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.svc.RecordOrderCancelled(context.Background(), &OrderCancelledRequest{Email: "a@x.com", OrderID: "missing"})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.place(t, "a@x.com", "o1", "lot-1", "")
	f.cancel(t, "a@x.com", "o1")
	profile, err := f.svc.RecordOrderCancelled(context.Background(), &OrderCancelledRequest{Email: "a@x.com", OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, 1, profile.CancellationCount)

	events, err := f.log.EventsSince(context.Background(), "a@x.com", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSetBlacklist_OnlyAppendsOnChange(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	profile, err := f.svc.SetBlacklist(ctx, &BlacklistRequest{Email: "a@x.com", Blacklisted: false})
	require.NoError(t, err)
	assert.False(t, profile.Blacklisted)

	for i := 0; i < 2; i++ {
		profile, err = f.svc.SetBlacklist(ctx, &BlacklistRequest{Email: "a@x.com", Blacklisted: true, Reason: "fraud"})
		require.NoError(t, err)
		assert.True(t, profile.Blacklisted)
		assert.Equal(t, "fraud", profile.BlacklistReason)
	}

	events, err := f.log.EventsSince(ctx, "a@x.com", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = f.svc.SetBlacklist(ctx, &BlacklistRequest{Email: ""})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t, time.Second)

	profile, err := f.svc.GetProfile(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Equal(t, "nobody@x.com", profile.Email)
	assert.Equal(t, 0, profile.OrderCount)
	assert.Equal(t, domain.TierNew, profile.Tier)

	f.place(t, "a@x.com", "o1", "lot-1", "fp")
	profile, err = f.svc.GetProfile(context.Background(), "A@X.com")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.OrderCount)
	assert.Equal(t, now, profile.UpdatedAt)
	assert.Equal(t, domain.TierStandard, profile.Tier)
}

func TestListAssessments_Limit(t *testing.T) {
	f := newFixture(t, time.Second)
	for i := 0; i < 3; i++ {
		_, err := f.svc.CheckOrderAttempt(context.Background(), &CheckRequest{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
		require.NoError(t, err)
	}
	list, err := f.svc.ListAssessments(context.Background(), "a@x.com", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = f.svc.ListAssessments(context.Background(), "", 2)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestHandleLifecycleEvent(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleLifecycleEvent(ctx, &OrderLifecycleEvent{
		Type: "order_placed", Email: "a@x.com", OrderID: "o1", LotID: "lot-1", Quantity: 2,
	}))
	require.NoError(t, f.svc.HandleLifecycleEvent(ctx, &OrderLifecycleEvent{
		Type: "order_cancelled", Email: "a@x.com", OrderID: "o1",
	}))
	err := f.svc.HandleLifecycleEvent(ctx, &OrderLifecycleEvent{Type: "order_shipped", Email: "a@x.com"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	profile, err := f.svc.GetProfile(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.OrderCount)
	assert.Equal(t, 1, profile.CancellationCount)
}

func TestNewRiskApplicationService_InvalidScoring(t *testing.T) {
	cfg := domain.DefaultScoringConfig()
	cfg.Weights[domain.FlagBlacklisted] = 10
	_, err := NewRiskApplicationService(Dependencies{}, cfg, time.Second)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
