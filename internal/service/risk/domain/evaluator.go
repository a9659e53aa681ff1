// internal/service/risk/domain/evaluator.go
package domain

// Signals 是评估所需、但不属于档案本身的外部计数
type Signals struct {
	// LotOrderCount 是该客户在目标批次上的有效订单数（含本次尝试）
	LotOrderCount int `json:"lotOrderCount"`
	// DeviceCustomerCount 是该设备指纹关联过的不同客户邮箱数
	DeviceCustomerCount int       `json:"deviceCustomerCount"`
	RuleHits            []RuleHit `json:"ruleHits,omitempty"`
}

// Result 是一次评估的纯结果
type Result struct {
	Allowed  bool       `json:"allowed"`
	Decision Decision   `json:"decision"`
	Flags    []RiskFlag `json:"flags"`
	Score    int        `json:"score"`
}

// Evaluator 根据声明式配置给下单尝试打分。
// Evaluate 是纯计算：不做 I/O，不读时钟，不生成 ID。
type Evaluator struct {
	cfg ScoringConfig
}

// NewEvaluator 补齐默认值并校验配置
func NewEvaluator(cfg ScoringConfig) (*Evaluator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

// DefaultEvaluator 使用默认配置
func DefaultEvaluator() *Evaluator {
	return &Evaluator{cfg: DefaultScoringConfig()}
}

func (e *Evaluator) Config() ScoringConfig {
	return e.cfg
}

// Evaluate 使用默认配置评估，lotOrderCountForCustomer 为该客户在目标批次上的订单数
func Evaluate(profile *RiskProfile, attempt OrderAttempt, lotOrderCountForCustomer int) (Result, error) {
	return DefaultEvaluator().Evaluate(profile, attempt, Signals{LotOrderCount: lotOrderCountForCustomer})
}

// Evaluate 计算风险分和触发的标记。档案为 nil 时按全新默认档案处理。
func (e *Evaluator) Evaluate(profile *RiskProfile, attempt OrderAttempt, signals Signals) (Result, error) {
	if attempt.Quantity <= 0 {
		return Result{}, NewValidationError("quantity", "must be a positive integer")
	}
	if profile == nil {
		profile = NewRiskProfile(attempt.Email)
	}

	// 黑名单直接拒绝，不再看其他因素
	if profile.Blacklisted {
		return Result{
			Allowed:  false,
			Decision: DecisionReject,
			Flags:    []RiskFlag{FlagBlacklisted},
			Score:    e.capScore(e.cfg.Weights[FlagBlacklisted]),
		}, nil
	}

	flags := []RiskFlag{}
	score := 0
	trigger := func(flag RiskFlag, weight int) {
		flags = append(flags, flag)
		score += weight
	}

	if profile.OrderCount >= e.cfg.CancelPatternMinOrders &&
		cancellationRatio(profile.OrderCount, profile.CancellationCount) > e.cfg.CancelRatioThreshold {
		trigger(FlagRapidCancelPattern, e.cfg.Weights[FlagRapidCancelPattern])
	}
	if attempt.DeviceFingerprint != "" && signals.DeviceCustomerCount >= e.cfg.SharedDeviceMinCustomers {
		trigger(FlagSharedDeviceAbuse, e.cfg.Weights[FlagSharedDeviceAbuse])
	}
	if signals.LotOrderCount > e.cfg.LotOrderCap {
		trigger(FlagExcessiveOrders, e.cfg.Weights[FlagExcessiveOrders])
	}
	for _, hit := range signals.RuleHits {
		if hit.Weight < 0 {
			continue
		}
		trigger(hit.Flag, hit.Weight)
	}

	score = e.capScore(score)
	decision := e.decide(score)
	return Result{
		Allowed:  decision != DecisionReject,
		Decision: decision,
		Flags:    flags,
		Score:    score,
	}, nil
}

func (e *Evaluator) decide(score int) Decision {
	switch {
	case score >= e.cfg.RejectThreshold:
		return DecisionReject
	case score >= e.cfg.ReviewThreshold:
		return DecisionReview
	default:
		return DecisionAllow
	}
}

func (e *Evaluator) capScore(score int) int {
	if score > e.cfg.MaxScore {
		return e.cfg.MaxScore
	}
	return score
}
