package application

import (
	"strings"
	"time"

	"riskgate/internal/service/risk/domain"
)

// CheckRequest 是下单流程发起的校验请求
type CheckRequest struct {
	Email             string `json:"email"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	LotID             string `json:"lotId"`
	Quantity          int    `json:"quantity"`
	Address           string `json:"address,omitempty"`
}

func (r *CheckRequest) ToAttempt() domain.OrderAttempt {
	return domain.OrderAttempt{
		Email:             r.Email,
		DeviceFingerprint: r.DeviceFingerprint,
		LotID:             r.LotID,
		Quantity:          r.Quantity,
		Address:           r.Address,
	}.Normalized()
}

// CheckResponse 是返回给下单流程的决策
type CheckResponse struct {
	AssessmentID string            `json:"assessmentId"`
	Allowed      bool              `json:"allowed"`
	Decision     domain.Decision   `json:"decision"`
	Flags        []domain.RiskFlag `json:"flags"`
	Score        int               `json:"score"`
	Tier         domain.TrustTier  `json:"tier"`
}

// OrderPlacedRequest 记录一笔已成功下单的订单
type OrderPlacedRequest struct {
	Email             string    `json:"email"`
	OrderID           string    `json:"orderId"`
	LotID             string    `json:"lotId"`
	Quantity          int       `json:"quantity"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	OccurredAt        time.Time `json:"occurredAt,omitempty"`
}

func (r *OrderPlacedRequest) normalize() {
	r.Email = domain.NormalizeEmail(r.Email)
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.LotID = strings.TrimSpace(r.LotID)
	r.DeviceFingerprint = strings.TrimSpace(r.DeviceFingerprint)
}

func (r *OrderPlacedRequest) validate() error {
	switch {
	case r.Email == "":
		return domain.NewValidationError("email", "must not be empty")
	case r.OrderID == "":
		return domain.NewValidationError("orderId", "must not be empty")
	case r.LotID == "":
		return domain.NewValidationError("lotId", "must not be empty")
	case r.Quantity <= 0:
		return domain.NewValidationError("quantity", "must be a positive integer")
	}
	return nil
}

// OrderCancelledRequest 记录一次取消
type OrderCancelledRequest struct {
	Email      string    `json:"email"`
	OrderID    string    `json:"orderId"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

func (r *OrderCancelledRequest) normalize() {
	r.Email = domain.NormalizeEmail(r.Email)
	r.OrderID = strings.TrimSpace(r.OrderID)
}

func (r *OrderCancelledRequest) validate() error {
	switch {
	case r.Email == "":
		return domain.NewValidationError("email", "must not be empty")
	case r.OrderID == "":
		return domain.NewValidationError("orderId", "must not be empty")
	}
	return nil
}

// BlacklistRequest 设置或解除黑名单
type BlacklistRequest struct {
	Email       string `json:"email"`
	Blacklisted bool   `json:"blacklisted"`
	Reason      string `json:"reason,omitempty"`
}

// OrderLifecycleEvent 是订单生命周期主题上的消息
type OrderLifecycleEvent struct {
	Type              string    `json:"type"` // order_placed | order_cancelled
	Email             string    `json:"email"`
	OrderID           string    `json:"orderId"`
	LotID             string    `json:"lotId,omitempty"`
	Quantity          int       `json:"quantity,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurredAt,omitempty"`
}
