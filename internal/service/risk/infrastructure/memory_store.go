package infrastructure

import (
	"context"
	"sort"
	"sync"

	"riskgate/internal/service/risk/domain"
)

// MemoryEventLog 是进程内的事件日志，用于开发模式和测试
type MemoryEventLog struct {
	mu     sync.RWMutex
	seq    int64
	events []*domain.ProfileEvent
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (m *MemoryEventLog) Append(_ context.Context, event *domain.ProfileEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	event.Seq = m.seq
	cp := *event
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryEventLog) EventsSince(_ context.Context, email string, afterSeq int64) ([]*domain.ProfileEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.ProfileEvent{}
	for _, e := range m.events {
		if e.Email == email && e.Seq > afterSeq {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryEventLog) CountCustomersByDevice(_ context.Context, fingerprint string) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	emails := map[string]struct{}{}
	for _, e := range m.events {
		if e.Type == domain.EventOrderPlaced && e.DeviceFingerprint == fingerprint {
			emails[e.Email] = struct{}{}
		}
	}
	return len(emails), nil
}

// MemoryAssessmentRepository 是进程内的评估记录存储
type MemoryAssessmentRepository struct {
	mu      sync.RWMutex
	byEmail map[string][]*domain.Assessment
}

func NewMemoryAssessmentRepository() *MemoryAssessmentRepository {
	return &MemoryAssessmentRepository{byEmail: map[string][]*domain.Assessment{}}
}

func (m *MemoryAssessmentRepository) Record(_ context.Context, a *domain.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.byEmail[a.Email] = append(m.byEmail[a.Email], &cp)
	return nil
}

func (m *MemoryAssessmentRepository) ListByEmail(_ context.Context, email string, limit int) ([]*domain.Assessment, error) {
	m.mu.RLock()
	list := append([]*domain.Assessment{}, m.byEmail[email]...)
	m.mu.RUnlock()

	// 稳定排序保证同一时间戳下后写入的排在前面
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].EvaluatedAt.After(list[j].EvaluatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
