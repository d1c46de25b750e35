package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	EntryTypeDebit  = "DEBIT"
	EntryTypeCredit = "CREDIT"
)

// LedgerEntry 总账分录表（复式记账）
//
// 【重要】分录表设计原则：
// 1. 只追加，不修改，不删除 —— 纠错通过反向分录完成，reversed_by_entry_id 指向冲正分录
// 2. 同一 transaction_id 下 SUM(DEBIT) == SUM(CREDIT)，借贷必须平衡
// 3. 余额只能从分录推导，任何表都不存余额字段
type LedgerEntry struct {
	ID                uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	TransactionID     uuid.UUID  `gorm:"type:char(36);index;not null" json:"transaction_id"`
	GLAccountCode     string     `gorm:"type:varchar(20);index;not null" json:"gl_account_code"`
	WalletID          *uuid.UUID `gorm:"type:char(36);index" json:"wallet_id,omitempty"` // 系统科目为 NULL
	EntryType         string     `gorm:"type:varchar(10);not null" json:"entry_type"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"` // 恒为正数，方向由 entry_type 表达
	Description       string     `gorm:"type:text" json:"description,omitempty"`
	IsReversed        bool       `gorm:"not null;default:false" json:"is_reversed"`
	ReversedByEntryID *uuid.UUID `gorm:"type:char(36)" json:"reversed_by_entry_id,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
