// internal/service/risk/domain/event.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType 是档案事件的类型
type EventType string

const (
	EventOrderPlaced    EventType = "order_placed"
	EventOrderCancelled EventType = "order_cancelled"
	EventBlacklisted    EventType = "blacklisted"
	EventUnblacklisted  EventType = "unblacklisted"
)

func (t EventType) Valid() bool {
	switch t {
	case EventOrderPlaced, EventOrderCancelled, EventBlacklisted, EventUnblacklisted:
		return true
	}
	return false
}

// ProfileEvent 是追加写事件日志中的一条记录。
// Seq 由日志在追加时分配，同一日志内严格递增。
type ProfileEvent struct {
	Seq               int64     `json:"seq"`
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Type              EventType `json:"type"`
	OrderID           string    `json:"orderId,omitempty"`
	LotID             string    `json:"lotId,omitempty"`
	Quantity          int       `json:"quantity,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// NewOrderPlacedEvent 创建下单事件
func NewOrderPlacedEvent(email, orderID, lotID string, quantity int, fingerprint string, at time.Time) *ProfileEvent {
	return &ProfileEvent{
		ID:                uuid.New().String(),
		Email:             NormalizeEmail(email),
		Type:              EventOrderPlaced,
		OrderID:           orderID,
		LotID:             lotID,
		Quantity:          quantity,
		DeviceFingerprint: fingerprint,
		OccurredAt:        at,
	}
}

// NewOrderCancelledEvent 创建取消事件
func NewOrderCancelledEvent(email, orderID, reason string, at time.Time) *ProfileEvent {
	return &ProfileEvent{
		ID:         uuid.New().String(),
		Email:      NormalizeEmail(email),
		Type:       EventOrderCancelled,
		OrderID:    orderID,
		Reason:     reason,
		OccurredAt: at,
	}
}

// NewBlacklistEvent 根据目标状态创建 blacklisted / unblacklisted 事件
func NewBlacklistEvent(email string, blacklisted bool, reason string, at time.Time) *ProfileEvent {
	t := EventUnblacklisted
	if blacklisted {
		t = EventBlacklisted
	}
	return &ProfileEvent{
		ID:         uuid.New().String(),
		Email:      NormalizeEmail(email),
		Type:       t,
		Reason:     reason,
		OccurredAt: at,
	}
}

// OrderRecord 是投影中单个订单的状态，用于幂等判断和按批次计数
type OrderRecord struct {
	LotID     string `json:"lotId"`
	Quantity  int    `json:"quantity"`
	Cancelled bool   `json:"cancelled"`
}

// Projection 是一个客户事件流折叠后的结果
type Projection struct {
	Profile *RiskProfile            `json:"profile"`
	Orders  map[string]*OrderRecord `json:"orders"`
	LastSeq int64                   `json:"lastSeq"`
}

func NewProjection(email string) *Projection {
	return &Projection{
		Profile: NewRiskProfile(email),
		Orders:  map[string]*OrderRecord{},
	}
}

// Replay 从零开始折叠事件
func Replay(email string, events []*ProfileEvent) *Projection {
	p := NewProjection(email)
	for _, e := range events {
		p.Apply(e)
	}
	return p
}

// Apply 折叠一条事件，返回它是否改变了投影。
// 已经处理过的序号、重复的下单、未知或重复的取消都会被忽略。
func (p *Projection) Apply(e *ProfileEvent) bool {
	if e == nil || (e.Seq != 0 && e.Seq <= p.LastSeq) {
		return false
	}
	if e.Seq != 0 {
		p.LastSeq = e.Seq
	}

	changed := false
	switch e.Type {
	case EventOrderPlaced:
		if _, seen := p.Orders[e.OrderID]; seen {
			break
		}
		p.Orders[e.OrderID] = &OrderRecord{LotID: e.LotID, Quantity: e.Quantity}
		p.Profile.OrderCount++
		p.Profile.addDevice(e.DeviceFingerprint)
		changed = true
	case EventOrderCancelled:
		rec, ok := p.Orders[e.OrderID]
		if !ok || rec.Cancelled {
			break
		}
		rec.Cancelled = true
		p.Profile.CancellationCount++
		changed = true
	case EventBlacklisted:
		if !p.Profile.Blacklisted || p.Profile.BlacklistReason != e.Reason {
			p.Profile.Blacklisted = true
			p.Profile.BlacklistReason = e.Reason
			changed = true
		}
	case EventUnblacklisted:
		if p.Profile.Blacklisted {
			p.Profile.Blacklisted = false
			p.Profile.BlacklistReason = ""
			changed = true
		}
	}

	if changed && e.OccurredAt.After(p.Profile.UpdatedAt) {
		p.Profile.UpdatedAt = e.OccurredAt
	}
	p.Profile.Tier = DeriveTier(p.Profile.OrderCount, p.Profile.CancellationCount, p.Profile.Blacklisted)
	return changed
}

// HasOrder 判断订单是否已被记录
func (p *Projection) HasOrder(orderID string) bool {
	_, ok := p.Orders[orderID]
	return ok
}

// IsCancelled 判断订单是否已取消
func (p *Projection) IsCancelled(orderID string) bool {
	rec, ok := p.Orders[orderID]
	return ok && rec.Cancelled
}

// ActiveLotOrders 返回该客户在指定批次上未取消的订单数
func (p *Projection) ActiveLotOrders(lotID string) int {
	n := 0
	for _, rec := range p.Orders {
		if rec.LotID == lotID && !rec.Cancelled {
			n++
		}
	}
	return n
}

// Snapshot 返回档案的深拷贝，Tier 按当前计数重新推导
func (p *Projection) Snapshot() *RiskProfile {
	return p.Profile.Clone()
}

// Normalize 修复从缓存反序列化出来的空字段
func (p *Projection) Normalize(email string) {
	if p.Profile == nil {
		p.Profile = NewRiskProfile(email)
	}
	if p.Profile.DeviceFingerprints == nil {
		p.Profile.DeviceFingerprints = []string{}
	}
	if p.Orders == nil {
		p.Orders = map[string]*OrderRecord{}
	}
	p.Profile.Tier = DeriveTier(p.Profile.OrderCount, p.Profile.CancellationCount, p.Profile.Blacklisted)
}
