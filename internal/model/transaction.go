package model

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 交易类型 / 状态常量
// ============================================================================

const (
	TransactionTypeTransfer = "TRANSFER" // P2P 转账
)

const (
	TransactionStatusPending    = "PENDING"
	TransactionStatusProcessing = "PROCESSING"
	TransactionStatusCompleted  = "COMPLETED"
	TransactionStatusFailed     = "FAILED"
	TransactionStatusCancelled  = "CANCELLED"
	TransactionStatusReversed   = "REVERSED"
)

// 状态只能单向流转，COMPLETED / FAILED 在转账流程内是终态
// （冲正流程追加新分录并流转到 REVERSED，不在转账流程内发生）
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusFailed, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:  {TransactionStatusReversed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 交易表
//
// 【重要】idempotency_key 唯一索引是防止重复扣款的最后一道防线：
// Redis 缓存不可用或并发穿透时，重复插入会在这里被数据库拒绝。
// 余额不足的审计行不带幂等键（NULL 不参与唯一约束），
// 同一个键重试时重新走完整流程——余额可能已经变化。
// 每笔成功交易对应两条金额相等的借贷分录（见 LedgerEntry）。
type Transaction struct {
	ID                      uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	IdempotencyKey          *uuid.UUID `gorm:"type:char(36);uniqueIndex" json:"idempotency_key,omitempty"`
	ReferenceNo             string     `gorm:"type:varchar(64);index;not null" json:"reference_no"` // 人类可读流水号
	FromWalletID            uuid.UUID  `gorm:"type:char(36)" json:"from_wallet_id"`
	ToWalletID              uuid.UUID  `gorm:"type:char(36)" json:"to_wallet_id"`
	FromUserID              uuid.UUID  `gorm:"type:char(36);index" json:"from_user_id"`
	ToUserID                uuid.UUID  `gorm:"type:char(36);index" json:"to_user_id"`
	AmountCents             int64      `gorm:"not null" json:"amount_cents"` // 以分计，避免浮点
	Currency                string     `gorm:"type:varchar(3);not null;default:VND" json:"currency"`
	Type                    string     `gorm:"type:varchar(20);not null" json:"type"`
	Status                  string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Description             string     `gorm:"type:text" json:"description,omitempty"`
	IsFlagged               bool       `gorm:"not null;default:false" json:"is_flagged"`
	FraudScore              int        `gorm:"not null;default:0" json:"fraud_score"`
	FraudReason             string     `gorm:"type:text" json:"fraud_reason,omitempty"`
	IPAddress               string     `gorm:"type:varchar(50)" json:"ip_address,omitempty"`
	UserAgent               string     `gorm:"type:text" json:"user_agent,omitempty"`
	IsReversed              bool       `gorm:"not null;default:false" json:"is_reversed"`
	ReversedByTransactionID *uuid.UUID `gorm:"type:char(36)" json:"reversed_by_transaction_id,omitempty"`
	ReversalReason          string     `gorm:"type:text" json:"reversal_reason,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}
