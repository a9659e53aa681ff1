package infrastructure

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"riskgate/internal/service/risk/domain"
)

var (
	assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Subsystem: "evaluator",
			Name:      "assessments_total",
			Help:      "Order attempts evaluated, by decision",
		},
		[]string{"decision"},
	)

	riskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Subsystem: "evaluator",
			Name:      "score",
			Help:      "Distribution of risk scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		},
	)

	flagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Subsystem: "evaluator",
			Name:      "flags_total",
			Help:      "Risk flags triggered, by flag",
		},
		[]string{"flag"},
	)

	profileEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Subsystem: "profile",
			Name:      "events_total",
			Help:      "Profile events appended to the log, by type",
		},
		[]string{"type"},
	)
)

// MetricsPublisher 把每次评估计入 Prometheus
type MetricsPublisher struct{}

func NewMetricsPublisher() *MetricsPublisher {
	return &MetricsPublisher{}
}

func (MetricsPublisher) Publish(_ context.Context, a *domain.Assessment) error {
	assessmentsTotal.WithLabelValues(string(a.Decision)).Inc()
	riskScore.Observe(float64(a.Score))
	for _, f := range a.Flags {
		flagsTotal.WithLabelValues(string(f)).Inc()
	}
	return nil
}

// InstrumentedEventLog 在追加成功后按类型计数
type InstrumentedEventLog struct {
	domain.EventLog
}

func NewInstrumentedEventLog(inner domain.EventLog) *InstrumentedEventLog {
	return &InstrumentedEventLog{EventLog: inner}
}

func (l *InstrumentedEventLog) Append(ctx context.Context, event *domain.ProfileEvent) error {
	if err := l.EventLog.Append(ctx, event); err != nil {
		return err
	}
	profileEventsTotal.WithLabelValues(string(event.Type)).Inc()
	return nil
}
