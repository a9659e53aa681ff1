package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
	"riskgate/internal/service/risk/infrastructure"
	"riskgate/internal/service/risk/infrastructure/adapter"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	snap   *domain.Projection
	getErr error
	sets   int
}

func (c *fakeCache) Get(_ context.Context, email string) (*domain.Projection, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.snap == nil {
		return nil, domain.ErrProfileNotFound.WithKey(email)
	}
	return c.snap, nil
}

func (c *fakeCache) Set(_ context.Context, _ string, p *domain.Projection) error {
	c.snap = p
	c.sets++
	return nil
}

type captured struct {
	got []*domain.Assessment
}

func (c *captured) Publish(_ context.Context, a *domain.Assessment) error {
	c.got = append(c.got, a)
	return nil
}

type failingLog struct {
	domain.EventLog
}

func (failingLog) EventsSince(context.Context, string, int64) ([]*domain.ProfileEvent, error) {
	return nil, domain.NewDependencyError("risk store", errors.New("connection refused"))
}

func newCheck(t *testing.T, log domain.EventLog, attempt domain.OrderAttempt) (*CheckContext, *captured) {
	t.Helper()
	pub := &captured{}
	return &CheckContext{
		Ctx:         context.Background(),
		Attempt:     attempt,
		Tracer:      noop.NewTracerProvider().Tracer("test"),
		Now:         func() time.Time { return now },
		Locker:      adapter.NewLocalCustomerLocker(),
		EventLog:    log,
		Evaluator:   domain.DefaultEvaluator(),
		Assessments: infrastructure.NewMemoryAssessmentRepository(),
		Publishers:  []port.DecisionPublisher{pub},
	}, pub
}

func TestChain_FullRun(t *testing.T) {
	ctx := context.Background()
	log := infrastructure.NewMemoryEventLog()
	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, log.Append(ctx, domain.NewOrderPlacedEvent("a@x.com", id, "lot-1", 1, "", now)))
	}

	cc, pub := newCheck(t, log, domain.OrderAttempt{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
	require.NoError(t, Build().Handle(cc))
	cc.Release(ctx)

	assert.Equal(t, 4, cc.Signals.LotOrderCount)
	assert.Equal(t, []domain.RiskFlag{domain.FlagExcessiveOrders}, cc.Result.Flags)
	assert.Equal(t, domain.DecisionAllow, cc.Result.Decision)
	require.NotNil(t, cc.Assessment)
	assert.Equal(t, now, cc.Assessment.EvaluatedAt)
	assert.Equal(t, domain.TierStandard, cc.Assessment.Tier)
	assert.Len(t, pub.got, 1)

	list, err := cc.Assessments.ListByEmail(ctx, "a@x.com", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestChain_DependencyErrorStopsChain(t *testing.T) {
	cc, pub := newCheck(t, failingLog{}, domain.OrderAttempt{Email: "a@x.com", LotID: "lot-1", Quantity: 1})
	err := Build().Handle(cc)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDependency)
	assert.Nil(t, cc.Assessment)
	assert.Empty(t, pub.got)

	// 锁仍然登记在释放栈上，释放后可以再次获取
	cc.Release(context.Background())
	unlock, err := cc.Locker.Lock(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NoError(t, unlock(context.Background()))
}

func TestCheckContext_ReleaseIsLIFO(t *testing.T) {
	cc := &CheckContext{}
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		cc.AddRelease(func(context.Context) { order = append(order, i) })
	}
	cc.Release(context.Background())
	cc.Release(context.Background())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestLoadProjection_UsesCacheAndTail(t *testing.T) {
	ctx := context.Background()
	log := infrastructure.NewMemoryEventLog()
	require.NoError(t, log.Append(ctx, domain.NewOrderPlacedEvent("a@x.com", "o1", "lot-1", 1, "", now)))
	cache := &fakeCache{}

	p, err := LoadProjection(ctx, log, cache, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Profile.OrderCount)
	assert.Equal(t, 1, cache.sets)

	require.NoError(t, log.Append(ctx, domain.NewOrderCancelledEvent("a@x.com", "o1", "", now)))
	p, err = LoadProjection(ctx, log, cache, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Profile.CancellationCount)
	assert.Equal(t, int64(2), p.LastSeq)
	assert.Equal(t, 2, cache.sets)

	// 没有新事件时不写缓存
	_, err = LoadProjection(ctx, log, cache, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, cache.sets)
}

func TestLoadProjection_CacheFailureFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	log := infrastructure.NewMemoryEventLog()
	require.NoError(t, log.Append(ctx, domain.NewOrderPlacedEvent("a@x.com", "o1", "lot-1", 1, "", now)))
	cache := &fakeCache{getErr: domain.NewDependencyError("redis", errors.New("timeout"))}

	p, err := LoadProjection(ctx, log, cache, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Profile.OrderCount)
}
