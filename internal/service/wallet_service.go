package service

import (
	"context"
	"fmt"
	"log"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WalletService 钱包管理
type WalletService struct {
	walletRepo *repository.WalletRepository
	ledgerRepo *repository.LedgerRepository
}

func NewWalletService(db *gorm.DB) *WalletService {
	return &WalletService{
		walletRepo: repository.NewWalletRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// CreateWalletRequest 开户请求
type CreateWalletRequest struct {
	UserID     uuid.UUID `json:"user_id" binding:"required"`
	WalletType string    `json:"wallet_type" binding:"required,oneof=PERSONAL BUSINESS MERCHANT"`
	Currency   string    `json:"currency"`
}

// BalanceResult 余额查询结果，金额同时给分和元两种表示
type BalanceResult struct {
	WalletID     uuid.UUID       `json:"wallet_id"`
	UserID       uuid.UUID       `json:"user_id"`
	BalanceCents int64           `json:"balance_cents"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
}

// CreateWallet 开户，科目代码由钱包类型决定（一经确定不可变更）
func (s *WalletService) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*model.Wallet, error) {
	glCode, ok := model.GLAccountCodeForWalletType(req.WalletType)
	if !ok {
		return nil, fmt.Errorf("不支持的钱包类型: %s", req.WalletType)
	}

	currency := req.Currency
	if currency == "" {
		currency = "VND"
	}

	wallet := &model.Wallet{
		ID:            uuid.New(),
		UserID:        req.UserID,
		WalletType:    req.WalletType,
		GLAccountCode: glCode,
		Currency:      currency,
		IsActive:      true,
	}
	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		return nil, err
	}

	log.Printf("开户成功: wallet=%s, user=%s, type=%s, gl=%s", wallet.ID, wallet.UserID, wallet.WalletType, glCode)
	return wallet, nil
}

// GetBalance 按用户查余额
// 【关键点】余额永远从分录实时推导，库里没有余额字段可以被改错。
func (s *WalletService) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceResult, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	balanceCents, err := s.ledgerRepo.GetBalance(ctx, nil, wallet.ID)
	if err != nil {
		return nil, fmt.Errorf("推导余额失败: %w", err)
	}
	return &BalanceResult{
		WalletID:     wallet.ID,
		UserID:       wallet.UserID,
		BalanceCents: balanceCents,
		Balance:      decimal.NewFromInt(balanceCents).DivRound(decimal.NewFromInt(100), 2),
		Currency:     wallet.Currency,
	}, nil
}

// GetBalanceByWalletID 按钱包查余额
func (s *WalletService) GetBalanceByWalletID(ctx context.Context, walletID uuid.UUID) (*BalanceResult, error) {
	wallet, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	balanceCents, err := s.ledgerRepo.GetBalance(ctx, nil, wallet.ID)
	if err != nil {
		return nil, fmt.Errorf("推导余额失败: %w", err)
	}
	return &BalanceResult{
		WalletID:     wallet.ID,
		UserID:       wallet.UserID,
		BalanceCents: balanceCents,
		Balance:      decimal.NewFromInt(balanceCents).DivRound(decimal.NewFromInt(100), 2),
		Currency:     wallet.Currency,
	}, nil
}

// SetFrozen 冻结/解冻钱包
func (s *WalletService) SetFrozen(ctx context.Context, walletID uuid.UUID, frozen bool, reason string) error {
	if _, err := s.walletRepo.GetByID(ctx, walletID); err != nil {
		return err
	}
	if err := s.walletRepo.SetFrozen(ctx, walletID, frozen, reason); err != nil {
		return err
	}
	log.Printf("钱包冻结状态变更: wallet=%s, frozen=%v, reason=%s", walletID, frozen, reason)
	return nil
}

// ListLedgerEntries 钱包流水（审计用）
func (s *WalletService) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]*model.LedgerEntry, error) {
	return s.ledgerRepo.ListByWalletID(ctx, walletID, limit)
}
