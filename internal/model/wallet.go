package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	WalletTypePersonal = "PERSONAL"
	WalletTypeBusiness = "BUSINESS"
	WalletTypeMerchant = "MERCHANT"
)

// 钱包类型到总账科目的映射（遵循会计科目表）
var walletTypeGLAccounts = map[string]string{
	WalletTypePersonal: "1110", // 现金-个人钱包
	WalletTypeBusiness: "1120", // 现金-企业钱包
	WalletTypeMerchant: "1130", // 现金-商户钱包
}

// GLAccountCodeForWalletType 根据钱包类型返回总账科目编码
func GLAccountCodeForWalletType(walletType string) (string, bool) {
	code, ok := walletTypeGLAccounts[walletType]
	return code, ok
}

// Wallet 用户钱包表
//
// 【重要】余额永远不落库！
// 余额只能从 ledger_entries 实时推导（见 LedgerRepository.GetBalance），
// 钱包表只保存科目归属和状态。
type Wallet struct {
	ID            uuid.UUID `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:char(36);uniqueIndex;not null" json:"user_id"` // 用户ID，由用户服务分配
	GLAccountCode string    `gorm:"type:varchar(20);not null" json:"gl_account_code"`  // 总账科目编码
	WalletType    string    `gorm:"type:varchar(20);not null" json:"wallet_type"`
	Currency      string    `gorm:"type:varchar(3);not null;default:VND" json:"currency"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	IsFrozen      bool      `gorm:"not null;default:false" json:"is_frozen"`
	FreezeReason  string    `gorm:"type:text" json:"freeze_reason,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
