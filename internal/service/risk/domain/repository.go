// internal/service/risk/domain/repository.go
package domain

import (
	"context"
	"time"
)

// Assessment 是一次评估的持久化记录，用于审计和审核台
type Assessment struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	LotID             string     `json:"lotId"`
	Quantity          int        `json:"quantity"`
	DeviceFingerprint string     `json:"deviceFingerprint,omitempty"`
	Allowed           bool       `json:"allowed"`
	Decision          Decision   `json:"decision"`
	Flags             []RiskFlag `json:"flags"`
	Score             int        `json:"score"`
	Tier              TrustTier  `json:"tier"`
	EvaluatedAt       time.Time  `json:"evaluatedAt"`
}

// EventLog 是追加写的档案事件日志 (出站端口)
type EventLog interface {
	// Append 追加事件并回填 Seq
	Append(ctx context.Context, event *ProfileEvent) error
	// EventsSince 按 Seq 升序返回该客户 Seq > afterSeq 的事件
	EventsSince(ctx context.Context, email string, afterSeq int64) ([]*ProfileEvent, error)
	// CountCustomersByDevice 返回在该设备指纹上下过单的不同邮箱数
	CountCustomersByDevice(ctx context.Context, fingerprint string) (int, error)
}

// AssessmentRepository 保存评估记录
type AssessmentRepository interface {
	Record(ctx context.Context, a *Assessment) error
	// ListByEmail 按评估时间倒序返回最多 limit 条
	ListByEmail(ctx context.Context, email string, limit int) ([]*Assessment, error)
}

// ProfileCache 缓存投影快照。未命中时返回 ErrProfileNotFound。
type ProfileCache interface {
	Get(ctx context.Context, email string) (*Projection, error)
	Set(ctx context.Context, email string, p *Projection) error
}
