package repository

import (
	"context"
	"testing"

	"walletpay/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEntry(t *testing.T, repo *LedgerRepository, walletID uuid.UUID, entryType string, amountCents int64, reversed bool) {
	t.Helper()
	entry := &model.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		GLAccountCode: "1110",
		WalletID:      &walletID,
		EntryType:     entryType,
		AmountCents:   amountCents,
		IsReversed:    reversed,
	}
	require.NoError(t, repo.Create(context.Background(), nil, entry))
}

func TestGetBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("无分录余额为零", func(t *testing.T) {
		repo := NewLedgerRepository(newTestDB(t))
		balance, err := repo.GetBalance(ctx, nil, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("余额等于借方减贷方", func(t *testing.T) {
		repo := NewLedgerRepository(newTestDB(t))
		walletID := uuid.New()

		seedEntry(t, repo, walletID, model.EntryTypeDebit, 100000, false) // 入金 1000.00
		seedEntry(t, repo, walletID, model.EntryTypeDebit, 50000, false)  // 入金 500.00
		seedEntry(t, repo, walletID, model.EntryTypeCredit, 30000, false) // 出金 300.00

		balance, err := repo.GetBalance(ctx, nil, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(120000), balance)
	})

	t.Run("已冲正分录不计入余额", func(t *testing.T) {
		repo := NewLedgerRepository(newTestDB(t))
		walletID := uuid.New()

		seedEntry(t, repo, walletID, model.EntryTypeDebit, 100000, false)
		seedEntry(t, repo, walletID, model.EntryTypeCredit, 40000, true) // 已冲正，不生效

		balance, err := repo.GetBalance(ctx, nil, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), balance)
	})

	t.Run("不同钱包的分录互不影响", func(t *testing.T) {
		repo := NewLedgerRepository(newTestDB(t))
		walletA := uuid.New()
		walletB := uuid.New()

		seedEntry(t, repo, walletA, model.EntryTypeDebit, 100000, false)
		seedEntry(t, repo, walletB, model.EntryTypeDebit, 77777, false)

		balance, err := repo.GetBalance(ctx, nil, walletA)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), balance)
	})

	t.Run("贷方大于借方允许负余额表达", func(t *testing.T) {
		// 推导本身不做正负断言，防透支由转账流程保证
		repo := NewLedgerRepository(newTestDB(t))
		walletID := uuid.New()

		seedEntry(t, repo, walletID, model.EntryTypeCredit, 500, false)

		balance, err := repo.GetBalance(ctx, nil, walletID)
		require.NoError(t, err)
		assert.Equal(t, int64(-500), balance)
	})
}

func TestGetByTransactionID(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepository(newTestDB(t))

	transactionID := uuid.New()
	walletA := uuid.New()
	walletB := uuid.New()

	credit := &model.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		GLAccountCode: "1110",
		WalletID:      &walletA,
		EntryType:     model.EntryTypeCredit,
		AmountCents:   10000,
	}
	debit := &model.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		GLAccountCode: "1120",
		WalletID:      &walletB,
		EntryType:     model.EntryTypeDebit,
		AmountCents:   10000,
	}
	require.NoError(t, repo.Create(ctx, nil, credit))
	require.NoError(t, repo.Create(ctx, nil, debit))

	entries, err := repo.GetByTransactionID(ctx, transactionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 借贷平衡
	var debitSum, creditSum int64
	for _, e := range entries {
		switch e.EntryType {
		case model.EntryTypeDebit:
			debitSum += e.AmountCents
		case model.EntryTypeCredit:
			creditSum += e.AmountCents
		}
	}
	assert.Equal(t, debitSum, creditSum)
}
