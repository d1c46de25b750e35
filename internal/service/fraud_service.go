package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================================
// 风控规则引擎
// ============================================================================
//
// 评估流程：
// 1. 取当前规则快照（启用规则在加载时已编译为强类型）
// 2. 逐条独立评估，不短路——每条触发的规则都累加扣分
// 3. 汇总：任一触发规则 action=BLOCK 则拦截；总分 >=70 标记；>=50 建议复核
//
// 【设计思考】规则为什么用快照而不是每次查库？
// 规则是读多写少的配置数据，每次评估查库纯属浪费；
// 快照是不可变值，换快照用 atomic.Value 整体替换，
// 评估全程无锁、可并发，后台任务定期刷新（见 job.RuleRefresher）。
//
// ============================================================================

// 评分阈值（固定值，与规则配置无关）
const (
	fraudFlagThreshold   = 70
	fraudReviewThreshold = 50
)

// EvaluationResult 风控评估结果
type EvaluationResult struct {
	TotalScore        int               `json:"total_score"`
	ShouldBlock       bool              `json:"should_block"`
	ShouldFlag        bool              `json:"should_flag"`
	TriggeredRules    []string          `json:"triggered_rules"`
	Details           map[string]string `json:"details"`
	RecommendedAction string            `json:"recommended_action"`
}

type FraudService struct {
	ruleRepo *repository.FraudRuleRepository
	txnRepo  *repository.TransactionRepository
	snapshot atomic.Value // []*model.CompiledRule
}

func NewFraudService(db *gorm.DB) *FraudService {
	return &FraudService{
		ruleRepo: repository.NewFraudRuleRepository(db),
		txnRepo:  repository.NewTransactionRepository(db),
	}
}

// Refresh 重新加载启用规则并编译成新快照
// 单条规则参数非法只跳过并告警，不影响其余规则生效。
func (s *FraudService) Refresh(ctx context.Context) error {
	rules, err := s.ruleRepo.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("加载风控规则失败: %w", err)
	}

	compiled := make([]*model.CompiledRule, 0, len(rules))
	for _, rule := range rules {
		c, err := rule.Compile()
		if err != nil {
			log.Printf("[Fraud] 规则参数非法，跳过: rule=%s, err=%v", rule.RuleName, err)
			continue
		}
		compiled = append(compiled, c)
	}

	s.snapshot.Store(compiled)
	log.Printf("[Fraud] 规则快照已刷新: 启用 %d 条，编译成功 %d 条", len(rules), len(compiled))
	return nil
}

// activeRules 取当前快照，首次调用时同步加载
func (s *FraudService) activeRules(ctx context.Context) ([]*model.CompiledRule, error) {
	if v := s.snapshot.Load(); v != nil {
		return v.([]*model.CompiledRule), nil
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s.snapshot.Load().([]*model.CompiledRule), nil
}

// Evaluate 对一笔转账做确定性风险评估
// 除了读"近期交易笔数"，评估对外部世界只读，可安全并发。
func (s *FraudService) Evaluate(ctx context.Context, req *TransferRequest, senderID uuid.UUID) (*EvaluationResult, error) {
	rules, err := s.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	result := &EvaluationResult{
		TriggeredRules: make([]string, 0),
		Details:        make(map[string]string),
	}

	for _, rule := range rules {
		triggered, err := s.evaluateRule(ctx, rule, req, senderID, result.Details)
		if err != nil {
			return nil, err
		}
		if !triggered {
			continue
		}

		result.TriggeredRules = append(result.TriggeredRules, rule.RuleName)
		result.TotalScore += rule.RiskScorePenalty
		if rule.Action == model.FraudActionBlock {
			result.ShouldBlock = true
		}

		log.Printf("[Fraud] 规则触发: rule=%s, penalty=%d, action=%s",
			rule.RuleName, rule.RiskScorePenalty, rule.Action)
	}

	result.ShouldFlag = result.TotalScore >= fraudFlagThreshold
	result.RecommendedAction = recommendedAction(result.ShouldBlock, result.ShouldFlag, result.TotalScore)

	log.Printf("[Fraud] 评估完成: sender=%s, score=%d, block=%v, flag=%v, action=%s",
		senderID, result.TotalScore, result.ShouldBlock, result.ShouldFlag, result.RecommendedAction)

	return result, nil
}

// evaluateRule 评估单条规则
// GEO_ANOMALY / BLACKLIST 为预留类型，未实现前恒为不触发；
// 未知类型告警后按不触发处理，配置错误永远不让评估挂掉。
func (s *FraudService) evaluateRule(ctx context.Context, rule *model.CompiledRule, req *TransferRequest, senderID uuid.UUID, details map[string]string) (bool, error) {
	switch rule.RuleType {
	case model.RuleTypeVelocity:
		return s.evaluateVelocity(ctx, rule, senderID, details)

	case model.RuleTypeAmountThreshold:
		return evaluateAmountThreshold(rule, req.AmountCents, details), nil

	case model.RuleTypePatternMatch:
		return evaluatePattern(rule, req.AmountCents, details), nil

	case model.RuleTypeGeoAnomaly, model.RuleTypeBlacklist:
		return false, nil

	default:
		log.Printf("[Fraud] 未知规则类型: rule=%s, type=%s", rule.RuleName, rule.RuleType)
		return false, nil
	}
}

// evaluateVelocity 频控：窗口 (now-window, now] 内笔数 >= 上限即触发
func (s *FraudService) evaluateVelocity(ctx context.Context, rule *model.CompiledRule, senderID uuid.UUID, details map[string]string) (bool, error) {
	p := rule.Velocity
	if p == nil {
		return false, nil
	}

	since := time.Now().Add(-time.Duration(p.TimeWindowMinutes) * time.Minute)
	count, err := s.txnRepo.CountByFromUserIDSince(ctx, senderID, since)
	if err != nil {
		return false, fmt.Errorf("统计近期交易笔数失败: %w", err)
	}

	triggered := count >= int64(p.MaxTransactions)
	if triggered {
		details[rule.RuleName] = fmt.Sprintf("交易频率超限: %d 分钟内 %d 笔（上限 %d）",
			p.TimeWindowMinutes, count, p.MaxTransactions)
	}
	return triggered, nil
}

// evaluateAmountThreshold 大额：金额严格大于阈值才触发
func evaluateAmountThreshold(rule *model.CompiledRule, amountCents int64, details map[string]string) bool {
	p := rule.Threshold
	if p == nil {
		return false
	}

	triggered := amountCents > p.ThresholdCents
	if triggered {
		details[rule.RuleName] = fmt.Sprintf("金额超过阈值: %d 分（阈值 %d 分）", amountCents, p.ThresholdCents)
	}
	return triggered
}

// evaluatePattern 模式匹配，目前只有整额模式：整除 divisor 且不小于 divisor
func evaluatePattern(rule *model.CompiledRule, amountCents int64, details map[string]string) bool {
	p := rule.Pattern
	if p == nil || p.Pattern != model.PatternRoundAmount {
		return false
	}

	triggered := amountCents%p.Divisor == 0 && amountCents >= p.Divisor
	if triggered {
		details[rule.RuleName] = fmt.Sprintf("整额交易: %d 分（可被 %d 整除）", amountCents, p.Divisor)
	}
	return triggered
}

// recommendedAction 建议动作优先级：BLOCK > FLAG(>=70) > REVIEW(>=50) > ALLOW
func recommendedAction(shouldBlock, shouldFlag bool, totalScore int) string {
	switch {
	case shouldBlock:
		return model.FraudActionBlock
	case shouldFlag:
		return model.FraudActionFlag
	case totalScore >= fraudReviewThreshold:
		return model.FraudActionReview
	default:
		return model.FraudActionAllow
	}
}
