// internal/service/risk/domain/flag.go
package domain

// RiskFlag 是评估时触发的风险标记，只嵌入在评估结果中，不单独存储
type RiskFlag string

const (
	FlagExcessiveOrders    RiskFlag = "excessive-orders"     // 单个批次的下单数超过上限
	FlagRapidCancelPattern RiskFlag = "rapid-cancel-pattern" // 取消率过高
	FlagSharedDeviceAbuse  RiskFlag = "shared-device-abuse"  // 同一设备关联了过多客户
	FlagBlacklisted        RiskFlag = "blacklisted"
)

// BuiltinFlags 是固定的内置标记集合
var BuiltinFlags = []RiskFlag{
	FlagExcessiveOrders,
	FlagRapidCancelPattern,
	FlagSharedDeviceAbuse,
	FlagBlacklisted,
}

func (f RiskFlag) IsBuiltin() bool {
	for _, b := range BuiltinFlags {
		if f == b {
			return true
		}
	}
	return false
}

// Decision 是评估结论
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review" // 放行但进入人工审核
	DecisionReject Decision = "reject"
)

// RuleHit 是自定义规则命中的结果，由规则引擎在评估前算好
type RuleHit struct {
	Flag   RiskFlag `json:"flag"`
	Weight int      `json:"weight"`
}
