package repository

import (
	"context"

	"walletpay/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create 追加分录
// 【重要】分录只追加：本仓库刻意不提供 Update/Delete 方法。
func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetByTransactionID 按创建顺序返回一笔交易的全部分录
func (r *LedgerRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC, entry_type ASC").
		Find(&entries).Error
	return entries, err
}

// GetBalance 从分录实时推导钱包余额（单位：分）
//
// 余额 = Σ DEBIT - Σ CREDIT，只计未冲正分录。资产类科目借方增加余额。
// 正确性关键路径（转账的余额校验）必须传入事务 tx，
// 与付款钱包的行锁、写分录处于同一隔离边界内。
func (r *LedgerRepository) GetBalance(ctx context.Context, tx *gorm.DB, walletID uuid.UUID) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	var balance *int64
	err := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("SUM(CASE WHEN entry_type = ? THEN amount_cents ELSE -amount_cents END)",
			model.EntryTypeDebit).
		Where("wallet_id = ? AND is_reversed = ?", walletID, false).
		Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	if balance == nil {
		// 无分录即零余额
		return 0, nil
	}
	return *balance, nil
}

// ListByWalletID 钱包分录流水（倒序）
func (r *LedgerRepository) ListByWalletID(ctx context.Context, walletID uuid.UUID, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
