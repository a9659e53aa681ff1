// internal/service/risk/domain/attempt.go
package domain

import "strings"

// OrderAttempt 是一次下单尝试的瞬时输入，只在单次校验中使用，不做持久化
type OrderAttempt struct {
	Email             string `json:"email"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	LotID             string `json:"lotId"`
	Quantity          int    `json:"quantity"`
	Address           string `json:"address,omitempty"`
}

// Validate 校验必填字段；数量必须是正整数
func (a *OrderAttempt) Validate() error {
	if NormalizeEmail(a.Email) == "" {
		return NewValidationError("email", "must not be empty")
	}
	if strings.TrimSpace(a.LotID) == "" {
		return NewValidationError("lotId", "must not be empty")
	}
	if a.Quantity <= 0 {
		return NewValidationError("quantity", "must be a positive integer")
	}
	return nil
}

// Normalized 返回键字段规整后的副本
func (a OrderAttempt) Normalized() OrderAttempt {
	a.Email = NormalizeEmail(a.Email)
	a.LotID = strings.TrimSpace(a.LotID)
	a.DeviceFingerprint = strings.TrimSpace(a.DeviceFingerprint)
	return a
}
