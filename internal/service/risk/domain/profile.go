// internal/service/risk/domain/profile.go
package domain

import (
	"sort"
	"strings"
	"time"
)

// TrustTier 是由风险档案推导出的粗粒度客户分级
type TrustTier string

const (
	TierNew      TrustTier = "new"
	TierStandard TrustTier = "standard"
	TierTrusted  TrustTier = "trusted"
	TierFlagged  TrustTier = "flagged"
	TierBlocked  TrustTier = "blocked"
)

const (
	// 取消率超过该值且订单数达到 CancelPatternMinOrders 时视为频繁取消
	CancelRatioThreshold   = 0.5
	CancelPatternMinOrders = 3

	TrustedMinOrders      = 10
	TrustedMaxCancelRatio = 0.1
)

// RiskProfile 是以邮箱为键的客户风险档案。
// 它只是事件日志的投影结果，计数从不原地修改。
type RiskProfile struct {
	Email              string    `json:"email"`
	OrderCount         int       `json:"orderCount"`
	CancellationCount  int       `json:"cancellationCount"`
	DeviceFingerprints []string  `json:"deviceFingerprints"`
	Blacklisted        bool      `json:"blacklisted"`
	BlacklistReason    string    `json:"blacklistReason,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt"`
	Tier               TrustTier `json:"tier"`
}

// NewRiskProfile 返回零计数的默认档案
func NewRiskProfile(email string) *RiskProfile {
	return &RiskProfile{
		Email:              NormalizeEmail(email),
		DeviceFingerprints: []string{},
		Tier:               TierNew,
	}
}

// NormalizeEmail 统一档案键的格式
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CancellationRatio 返回取消数/订单数，没有订单时为 0
func (p *RiskProfile) CancellationRatio() float64 {
	return cancellationRatio(p.OrderCount, p.CancellationCount)
}

// HasDevice 判断设备指纹是否已出现在该客户的历史中
func (p *RiskProfile) HasDevice(fingerprint string) bool {
	i := sort.SearchStrings(p.DeviceFingerprints, fingerprint)
	return i < len(p.DeviceFingerprints) && p.DeviceFingerprints[i] == fingerprint
}

func (p *RiskProfile) addDevice(fingerprint string) {
	if fingerprint == "" || p.HasDevice(fingerprint) {
		return
	}
	i := sort.SearchStrings(p.DeviceFingerprints, fingerprint)
	p.DeviceFingerprints = append(p.DeviceFingerprints, "")
	copy(p.DeviceFingerprints[i+1:], p.DeviceFingerprints[i:])
	p.DeviceFingerprints[i] = fingerprint
}

// Clone 返回深拷贝，并重新计算 Tier
func (p *RiskProfile) Clone() *RiskProfile {
	c := *p
	c.DeviceFingerprints = append([]string{}, p.DeviceFingerprints...)
	c.Tier = DeriveTier(c.OrderCount, c.CancellationCount, c.Blacklisted)
	return &c
}

// DeriveTier 是 (订单数, 取消率, 黑名单) 的纯函数
func DeriveTier(orders, cancellations int, blacklisted bool) TrustTier {
	ratio := cancellationRatio(orders, cancellations)
	switch {
	case blacklisted:
		return TierBlocked
	case orders == 0:
		return TierNew
	case orders >= CancelPatternMinOrders && ratio > CancelRatioThreshold:
		return TierFlagged
	case orders >= TrustedMinOrders && ratio <= TrustedMaxCancelRatio:
		return TierTrusted
	default:
		return TierStandard
	}
}

func cancellationRatio(orders, cancellations int) float64 {
	if orders <= 0 {
		return 0
	}
	return float64(cancellations) / float64(orders)
}
