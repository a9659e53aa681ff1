package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"riskgate/internal/pkg/bootstrap"
	"riskgate/internal/service/risk/domain"
)

func newSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// eventLogContract 对所有 EventLog 实现执行同一组断言
func eventLogContract(t *testing.T, log domain.EventLog) {
	ctx := context.Background()

	events := []*domain.ProfileEvent{
		domain.NewOrderPlacedEvent("a@x.com", "o1", "lot-1", 1, "fp-shared", at),
		domain.NewOrderPlacedEvent("b@x.com", "o2", "lot-1", 1, "fp-shared", at),
		domain.NewOrderPlacedEvent("a@x.com", "o3", "lot-2", 2, "fp-a", at),
		domain.NewOrderCancelledEvent("a@x.com", "o1", "", at),
		domain.NewOrderPlacedEvent("a@x.com", "o4", "lot-1", 1, "fp-shared", at),
		domain.NewBlacklistEvent("c@x.com", true, "fraud", at),
	}
	var prev int64
	for _, e := range events {
		require.NoError(t, log.Append(ctx, e))
		assert.Greater(t, e.Seq, prev)
		prev = e.Seq
	}

	all, err := log.EventsSince(ctx, "a@x.com", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "o1", all[0].OrderID)
	assert.Equal(t, domain.EventOrderCancelled, all[2].Type)
	assert.Equal(t, events[0].ID, all[0].ID)
	assert.True(t, all[0].OccurredAt.Equal(at))

	tail, err := log.EventsSince(ctx, "a@x.com", all[1].Seq)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, all[2].Seq, tail[0].Seq)

	n, err := log.CountCustomersByDevice(ctx, "fp-shared")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = log.CountCustomersByDevice(ctx, "fp-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = log.CountCustomersByDevice(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p := domain.Replay("a@x.com", all)
	assert.Equal(t, 3, p.Profile.OrderCount)
	assert.Equal(t, 1, p.Profile.CancellationCount)
	assert.Equal(t, 1, p.ActiveLotOrders("lot-1"))
}

func assessmentRepoContract(t *testing.T, repo domain.AssessmentRepository) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Record(ctx, &domain.Assessment{
			ID:          "as-" + string(rune('a'+i)),
			Email:       "a@x.com",
			LotID:       "lot-1",
			Quantity:    1,
			Allowed:     i < 3,
			Decision:    domain.DecisionAllow,
			Flags:       []domain.RiskFlag{domain.FlagExcessiveOrders, domain.FlagSharedDeviceAbuse}[:i%3],
			Score:       i * 10,
			Tier:        domain.TierStandard,
			EvaluatedAt: at.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Record(ctx, &domain.Assessment{ID: "other", Email: "b@x.com", EvaluatedAt: at}))

	list, err := repo.ListByEmail(ctx, "a@x.com", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "as-d", list[0].ID)
	assert.Equal(t, "as-c", list[1].ID)
	assert.Equal(t, []domain.RiskFlag{domain.FlagExcessiveOrders, domain.FlagSharedDeviceAbuse}, list[1].Flags)
	assert.Equal(t, []domain.RiskFlag{}, list[0].Flags)
	assert.Equal(t, []domain.RiskFlag{domain.FlagExcessiveOrders}, list[2].Flags)

	none, err := repo.ListByEmail(ctx, "nobody@x.com", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormEventLog(t *testing.T) {
	eventLogContract(t, NewGormEventLog(newSQLite(t)))
}

func TestMemoryEventLog(t *testing.T) {
	eventLogContract(t, NewMemoryEventLog())
}

func TestGormAssessmentRepository(t *testing.T) {
	assessmentRepoContract(t, NewGormAssessmentRepository(newSQLite(t)))
}

func TestMemoryAssessmentRepository(t *testing.T) {
	assessmentRepoContract(t, NewMemoryAssessmentRepository())
}

func TestGormEventLog_DependencyError(t *testing.T) {
	db := newSQLite(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	log := NewGormEventLog(db)
	err = log.Append(context.Background(), domain.NewOrderPlacedEvent("a@x.com", "o1", "lot", 1, "", at))
	assert.ErrorIs(t, err, domain.ErrDependency)

	_, err = log.EventsSince(context.Background(), "a@x.com", 0)
	assert.ErrorIs(t, err, domain.ErrDependency)
}

func TestFormatDSN(t *testing.T) {
	dsn := FormatDSN(bootstrap.MySQLConfig{Host: "db", Port: 3306, User: "risk", Password: "s3cret", Database: "riskgate"})
	assert.Contains(t, dsn, "risk:s3cret@tcp(db:3306)/riskgate")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestMetricsPublisher(t *testing.T) {
	before := testutil.ToFloat64(assessmentsTotal.WithLabelValues("review"))
	flagBefore := testutil.ToFloat64(flagsTotal.WithLabelValues(string(domain.FlagRapidCancelPattern)))

	require.NoError(t, NewMetricsPublisher().Publish(context.Background(), &domain.Assessment{
		Decision: domain.DecisionReview,
		Flags:    []domain.RiskFlag{domain.FlagRapidCancelPattern},
		Score:    40,
	}))

	assert.Equal(t, before+1, testutil.ToFloat64(assessmentsTotal.WithLabelValues("review")))
	assert.Equal(t, flagBefore+1, testutil.ToFloat64(flagsTotal.WithLabelValues(string(domain.FlagRapidCancelPattern))))
}

func TestInstrumentedEventLog(t *testing.T) {
	before := testutil.ToFloat64(profileEventsTotal.WithLabelValues(string(domain.EventBlacklisted)))
	log := NewInstrumentedEventLog(NewMemoryEventLog())
	require.NoError(t, log.Append(context.Background(), domain.NewBlacklistEvent("a@x.com", true, "", at)))
	assert.Equal(t, before+1, testutil.ToFloat64(profileEventsTotal.WithLabelValues(string(domain.EventBlacklisted))))

	events, err := log.EventsSince(context.Background(), "a@x.com", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
