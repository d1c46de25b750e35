package service

import (
	"context"
	"testing"

	"walletpay/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWalletGLAccountMapping(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewWalletService(db)

	tests := []struct {
		walletType string
		glCode     string
	}{
		{model.WalletTypePersonal, "1110"},
		{model.WalletTypeBusiness, "1120"},
		{model.WalletTypeMerchant, "1130"},
	}

	for _, tt := range tests {
		wallet, err := svc.CreateWallet(ctx, &CreateWalletRequest{
			UserID:     uuid.New(),
			WalletType: tt.walletType,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.glCode, wallet.GLAccountCode)
		assert.Equal(t, "VND", wallet.Currency)
		assert.True(t, wallet.IsActive)
	}

	_, err := svc.CreateWallet(ctx, &CreateWalletRequest{
		UserID:     uuid.New(),
		WalletType: "SAVINGS",
	})
	assert.Error(t, err)
}

func TestWalletGetBalance(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewWalletService(db)

	wallet := createTestWallet(t, db, model.WalletTypePersonal)
	fundWallet(t, db, wallet, 123456)

	balance, err := svc.GetBalance(ctx, wallet.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), balance.BalanceCents)
	assert.True(t, balance.Balance.Equal(decimal.RequireFromString("1234.56")))
	assert.Equal(t, wallet.ID, balance.WalletID)
}
