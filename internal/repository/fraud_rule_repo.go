package repository

import (
	"context"

	"walletpay/internal/model"

	"gorm.io/gorm"
)

type FraudRuleRepository struct {
	db *gorm.DB
}

func NewFraudRuleRepository(db *gorm.DB) *FraudRuleRepository {
	return &FraudRuleRepository{db: db}
}

func (r *FraudRuleRepository) Create(ctx context.Context, rule *model.FraudRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// GetActiveRules 加载全部启用规则，按扣分降序
func (r *FraudRuleRepository) GetActiveRules(ctx context.Context) ([]*model.FraudRule, error) {
	var rules []*model.FraudRule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("risk_score_penalty DESC").
		Find(&rules).Error
	return rules, err
}

// SetActive 启用/停用规则
func (r *FraudRuleRepository) SetActive(ctx context.Context, ruleName string, active bool) error {
	return r.db.WithContext(ctx).
		Model(&model.FraudRule{}).
		Where("rule_name = ?", ruleName).
		Update("is_active", active).Error
}
