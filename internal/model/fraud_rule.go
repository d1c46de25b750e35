package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 风控规则
// ============================================================================

const (
	RuleTypeVelocity        = "VELOCITY"
	RuleTypeAmountThreshold = "AMOUNT_THRESHOLD"
	RuleTypeGeoAnomaly      = "GEO_ANOMALY"
	RuleTypePatternMatch    = "PATTERN_MATCH"
	RuleTypeBlacklist       = "BLACKLIST"
)

const (
	FraudActionFlag   = "FLAG"
	FraudActionBlock  = "BLOCK"
	FraudActionReview = "REVIEW"
	FraudActionAllow  = "ALLOW"
)

const PatternRoundAmount = "ROUND_AMOUNT"

// FraudRule 风控规则表
// 规则参数以 JSON 存储，不同 rule_type 的参数结构不同，
// 加载时一次性解析成强类型（见 Compile），避免每次评估都解析 JSON。
type FraudRule struct {
	ID               uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	RuleName         string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"rule_name"`
	RuleType         string    `gorm:"type:varchar(50);not null" json:"rule_type"`
	Parameters       string    `gorm:"type:text;not null" json:"parameters"`
	RiskScorePenalty int       `gorm:"not null" json:"risk_score_penalty"`
	Action           string    `gorm:"type:varchar(20);not null;default:FLAG" json:"action"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FraudRule) TableName() string {
	return "fraud_rules"
}

// VelocityParams VELOCITY 规则参数
// 触发条件：发送方在滑动窗口 (now-window, now] 内的交易笔数 >= max_transactions
type VelocityParams struct {
	MaxTransactions   int `json:"maxTransactions"`
	TimeWindowMinutes int `json:"timeWindowMinutes"`
}

// AmountThresholdParams AMOUNT_THRESHOLD 规则参数
// 触发条件：amount_cents > threshold_cents（严格大于）
type AmountThresholdParams struct {
	ThresholdCents int64 `json:"thresholdCents"`
}

// PatternParams PATTERN_MATCH 规则参数
// 目前只支持 ROUND_AMOUNT 子模式：金额整除 divisor 且 >= divisor
type PatternParams struct {
	Pattern string `json:"pattern"`
	Divisor int64  `json:"divisor"`
}

// CompiledRule 已编译规则：参数解析完成的不可变快照成员
type CompiledRule struct {
	ID               uuid.UUID
	RuleName         string
	RuleType         string
	RiskScorePenalty int
	Action           string

	Velocity  *VelocityParams
	Threshold *AmountThresholdParams
	Pattern   *PatternParams
}

// Compile 解析规则参数，返回强类型的不可变规则
// 参数非法的规则在这里被拒绝，评估热路径上不再出现解析错误。
func (r *FraudRule) Compile() (*CompiledRule, error) {
	compiled := &CompiledRule{
		ID:               r.ID,
		RuleName:         r.RuleName,
		RuleType:         r.RuleType,
		RiskScorePenalty: r.RiskScorePenalty,
		Action:           r.Action,
	}

	switch r.RuleType {
	case RuleTypeVelocity:
		var p VelocityParams
		if err := json.Unmarshal([]byte(r.Parameters), &p); err != nil {
			return nil, fmt.Errorf("解析 VELOCITY 参数失败: %w", err)
		}
		if p.MaxTransactions <= 0 || p.TimeWindowMinutes <= 0 {
			return nil, fmt.Errorf("VELOCITY 参数非法: maxTransactions=%d, timeWindowMinutes=%d",
				p.MaxTransactions, p.TimeWindowMinutes)
		}
		compiled.Velocity = &p

	case RuleTypeAmountThreshold:
		var p AmountThresholdParams
		if err := json.Unmarshal([]byte(r.Parameters), &p); err != nil {
			return nil, fmt.Errorf("解析 AMOUNT_THRESHOLD 参数失败: %w", err)
		}
		if p.ThresholdCents <= 0 {
			return nil, fmt.Errorf("AMOUNT_THRESHOLD 参数非法: thresholdCents=%d", p.ThresholdCents)
		}
		compiled.Threshold = &p

	case RuleTypePatternMatch:
		var p PatternParams
		if err := json.Unmarshal([]byte(r.Parameters), &p); err != nil {
			return nil, fmt.Errorf("解析 PATTERN_MATCH 参数失败: %w", err)
		}
		if p.Pattern == PatternRoundAmount && p.Divisor <= 0 {
			return nil, fmt.Errorf("ROUND_AMOUNT 参数非法: divisor=%d", p.Divisor)
		}
		compiled.Pattern = &p

	case RuleTypeGeoAnomaly, RuleTypeBlacklist:
		// 预留规则类型，参数不解析，评估时恒为不触发

	default:
		// 未知类型不在编译期拒绝，评估时按不触发处理并告警
	}

	return compiled, nil
}
