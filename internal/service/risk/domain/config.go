// internal/service/risk/domain/config.go
package domain

import "fmt"

// ScoringConfig 是声明式的评分配置：{flag: weight} 加上阈值和上限。
// 调整权重只需修改配置（或配置中心），无需改代码。
//
// 阈值、上限和比例字段为 0 表示未配置，由 WithDefaults 填入默认值，
// 因此 review_threshold 不能配置为 0；最小可用的复核阈值是 1。
type ScoringConfig struct {
	Weights map[RiskFlag]int `yaml:"weights" json:"weights"`

	ReviewThreshold int `yaml:"review_threshold" json:"reviewThreshold"`
	RejectThreshold int `yaml:"reject_threshold" json:"rejectThreshold"`
	MaxScore        int `yaml:"max_score" json:"maxScore"`

	CancelRatioThreshold     float64 `yaml:"cancel_ratio_threshold" json:"cancelRatioThreshold"`
	CancelPatternMinOrders   int     `yaml:"cancel_pattern_min_orders" json:"cancelPatternMinOrders"`
	SharedDeviceMinCustomers int     `yaml:"shared_device_min_customers" json:"sharedDeviceMinCustomers"`
	LotOrderCap              int     `yaml:"lot_order_cap" json:"lotOrderCap"`
}

// DefaultScoringConfig 返回默认权重
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: map[RiskFlag]int{
			FlagRapidCancelPattern: 40,
			FlagSharedDeviceAbuse:  30,
			FlagExcessiveOrders:    20,
			FlagBlacklisted:        100,
		},
		ReviewThreshold:          30,
		RejectThreshold:          70,
		MaxScore:                 100,
		CancelRatioThreshold:     CancelRatioThreshold,
		CancelPatternMinOrders:   CancelPatternMinOrders,
		SharedDeviceMinCustomers: 3,
		LotOrderCap:              3,
	}
}

// WithDefaults 用默认值补齐未配置的字段（包括缺失的内置权重）。值为 0 的字段视为未配置。
func (c ScoringConfig) WithDefaults() ScoringConfig {
	d := DefaultScoringConfig()
	weights := make(map[RiskFlag]int, len(d.Weights))
	for flag, w := range d.Weights {
		weights[flag] = w
	}
	for flag, w := range c.Weights {
		weights[flag] = w
	}
	c.Weights = weights

	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = d.ReviewThreshold
	}
	if c.RejectThreshold == 0 {
		c.RejectThreshold = d.RejectThreshold
	}
	if c.MaxScore == 0 {
		c.MaxScore = d.MaxScore
	}
	if c.CancelRatioThreshold == 0 {
		c.CancelRatioThreshold = d.CancelRatioThreshold
	}
	if c.CancelPatternMinOrders == 0 {
		c.CancelPatternMinOrders = d.CancelPatternMinOrders
	}
	if c.SharedDeviceMinCustomers == 0 {
		c.SharedDeviceMinCustomers = d.SharedDeviceMinCustomers
	}
	if c.LotOrderCap == 0 {
		c.LotOrderCap = d.LotOrderCap
	}
	return c
}

// Validate 保证评分单调：权重非负，阈值有序，黑名单权重足以直接拒绝
func (c ScoringConfig) Validate() error {
	for flag, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %q must not be negative, got %d", flag, w)
		}
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > c.RejectThreshold || c.RejectThreshold > c.MaxScore {
		return fmt.Errorf("thresholds must satisfy 0 <= review(%d) <= reject(%d) <= max(%d)",
			c.ReviewThreshold, c.RejectThreshold, c.MaxScore)
	}
	if c.Weights[FlagBlacklisted] < c.RejectThreshold {
		return fmt.Errorf("blacklisted weight %d is below reject threshold %d", c.Weights[FlagBlacklisted], c.RejectThreshold)
	}
	if c.CancelRatioThreshold <= 0 || c.CancelRatioThreshold >= 1 {
		return fmt.Errorf("cancel_ratio_threshold must be in (0,1), got %v", c.CancelRatioThreshold)
	}
	if c.CancelPatternMinOrders <= 0 || c.SharedDeviceMinCustomers <= 0 || c.LotOrderCap <= 0 {
		return fmt.Errorf("cancel_pattern_min_orders, shared_device_min_customers and lot_order_cap must be positive")
	}
	return nil
}
