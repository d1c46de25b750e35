package service

import (
	"time"

	"walletpay/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferRequest 转账请求
type TransferRequest struct {
	IdempotencyKey uuid.UUID `json:"idempotency_key" binding:"required"`
	FromUserID     uuid.UUID `json:"from_user_id" binding:"required"`
	ToUserID       uuid.UUID `json:"to_user_id" binding:"required"`
	AmountCents    int64     `json:"amount_cents" binding:"required,gt=0"`
	Description    string    `json:"description"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
}

// TransferResult 转账结果
// 幂等重放返回的就是这个结构的缓存副本，字段必须完整可重建。
type TransferResult struct {
	TransactionID  uuid.UUID       `json:"transaction_id"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	ReferenceNo    string          `json:"reference_no"`
	FromWalletID   uuid.UUID       `json:"from_wallet_id"`
	ToWalletID     uuid.UUID       `json:"to_wallet_id"`
	FromUserID     uuid.UUID       `json:"from_user_id"`
	ToUserID       uuid.UUID       `json:"to_user_id"`
	AmountCents    int64           `json:"amount_cents"`
	Amount         decimal.Decimal `json:"amount"` // 分转元，两位小数，四舍五入
	Currency       string          `json:"currency"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Description    string          `json:"description,omitempty"`
	IsFlagged      bool            `json:"is_flagged"`
	FraudScore     int             `json:"fraud_score"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// BuildTransferResult 从交易行重建转账结果
// 幂等回源（数据库兜底）和首次处理共用这一个构造函数，保证重放结果一致。
func BuildTransferResult(txn *model.Transaction) *TransferResult {
	var key uuid.UUID
	if txn.IdempotencyKey != nil {
		key = *txn.IdempotencyKey
	}

	return &TransferResult{
		TransactionID:  txn.ID,
		IdempotencyKey: key,
		ReferenceNo:    txn.ReferenceNo,
		FromWalletID:   txn.FromWalletID,
		ToWalletID:     txn.ToWalletID,
		FromUserID:     txn.FromUserID,
		ToUserID:       txn.ToUserID,
		AmountCents:    txn.AmountCents,
		Amount:         decimal.NewFromInt(txn.AmountCents).DivRound(decimal.NewFromInt(100), 2),
		Currency:       txn.Currency,
		Type:           txn.Type,
		Status:         txn.Status,
		Description:    txn.Description,
		IsFlagged:      txn.IsFlagged,
		FraudScore:     txn.FraudScore,
		CreatedAt:      txn.CreatedAt,
		CompletedAt:    txn.CompletedAt,
	}
}

// TransactionDetail 交易详情（交易 + 按序分录）
type TransactionDetail struct {
	Transaction   *model.Transaction   `json:"transaction"`
	LedgerEntries []*model.LedgerEntry `json:"ledger_entries"`
}
