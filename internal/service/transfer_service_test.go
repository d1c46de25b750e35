package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type transferFixture struct {
	db        *gorm.DB
	svc       *TransferService
	validator *fakeValidator
	usage     *fakeUsageRecorder
	sender    *model.Wallet
	receiver  *model.Wallet
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()

	db := newTestDB(t)
	_, rdb := newTestRedis(t)
	validator := newFakeValidator()
	usage := &fakeUsageRecorder{}

	return &transferFixture{
		db:        db,
		svc:       NewTransferService(db, rdb, newTestConfig(), validator, usage),
		validator: validator,
		usage:     usage,
		sender:    createTestWallet(t, db, model.WalletTypePersonal),
		receiver:  createTestWallet(t, db, model.WalletTypePersonal),
	}
}

func (f *transferFixture) request(amountCents int64) *TransferRequest {
	return &TransferRequest{
		IdempotencyKey: uuid.New(),
		FromUserID:     f.sender.UserID,
		ToUserID:       f.receiver.UserID,
		AmountCents:    amountCents,
		Description:    "测试转账",
	}
}

func (f *transferFixture) balance(t *testing.T, walletID uuid.UUID) int64 {
	t.Helper()
	balance, err := repository.NewLedgerRepository(f.db).GetBalance(context.Background(), nil, walletID)
	require.NoError(t, err)
	return balance
}

func (f *transferFixture) countTransactions(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&model.Transaction{}).Count(&count).Error)
	return count
}

func (f *transferFixture) countEntries(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&model.LedgerEntry{}).Count(&count).Error)
	return count
}

func TestProcessTransferHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)

	result, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.TransactionStatusCompleted, result.Status)
	assert.NotEmpty(t, result.ReferenceNo)
	assert.Equal(t, int64(10000), result.AmountCents)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("100")), "100.00 元，实际 %s", result.Amount)
	assert.NotNil(t, result.CompletedAt)

	// 余额双边各动 10000 分
	assert.Equal(t, int64(10000), f.balance(t, f.sender.ID))
	assert.Equal(t, int64(10000), f.balance(t, f.receiver.ID))

	// 恰好两条金额相等的借贷分录
	entries, err := repository.NewLedgerRepository(f.db).GetByTransactionID(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byType := map[string]*model.LedgerEntry{}
	for _, e := range entries {
		byType[e.EntryType] = e
	}
	require.Contains(t, byType, model.EntryTypeCredit)
	require.Contains(t, byType, model.EntryTypeDebit)
	assert.Equal(t, f.sender.ID, *byType[model.EntryTypeCredit].WalletID)
	assert.Equal(t, f.receiver.ID, *byType[model.EntryTypeDebit].WalletID)
	assert.Equal(t, byType[model.EntryTypeDebit].AmountCents, byType[model.EntryTypeCredit].AmountCents)
	assert.Equal(t, f.sender.GLAccountCode, byType[model.EntryTypeCredit].GLAccountCode)

	// 转账完成事件已进发件箱
	var outbox []model.OutboxMessage
	require.NoError(t, f.db.Find(&outbox).Error)
	require.Len(t, outbox, 1)
	assert.Equal(t, "transfer-result", outbox[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, outbox[0].Status)

	// 用量异步上报两条腿
	require.Eventually(t, func() bool {
		return len(f.usage.recorded()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	directions := map[string]uuid.UUID{}
	for _, r := range f.usage.recorded() {
		directions[r.Direction] = r.UserID
	}
	assert.Equal(t, f.sender.UserID, directions["send"])
	assert.Equal(t, f.receiver.UserID, directions["receive"])
}

func TestProcessTransferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 5000)

	_, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.ErrorIs(t, err, ErrBalanceNotEnough)

	// 落一条不带幂等键的 FAILED 审计行，不产生任何分录
	var txns []model.Transaction
	require.NoError(t, f.db.Find(&txns).Error)
	require.Len(t, txns, 1)
	assert.Equal(t, model.TransactionStatusFailed, txns[0].Status)
	assert.Nil(t, txns[0].IdempotencyKey)

	assert.Equal(t, int64(1), f.countEntries(t)) // 只有铺底那一条
	assert.Equal(t, int64(5000), f.balance(t, f.sender.ID))
}

func TestProcessTransferRetryAfterInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 5000)

	req := f.request(10000)
	_, err := f.svc.ProcessTransfer(ctx, req)
	require.ErrorIs(t, err, ErrBalanceNotEnough)

	// 入金后用同一个幂等键重试，必须重新走完整流程并成功
	fundWallet(t, f.db, f.sender, 10000)
	result, err := f.svc.ProcessTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)
	assert.Equal(t, int64(5000), f.balance(t, f.sender.ID))
}

func TestProcessTransferSameUser(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)

	req := f.request(10000)
	req.ToUserID = req.FromUserID

	_, err := f.svc.ProcessTransfer(ctx, req)
	require.ErrorIs(t, err, ErrSameUserTransfer)
	assert.Equal(t, int64(0), f.countTransactions(t))
}

func TestProcessTransferFraudBlocked(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)
	createTestRule(t, f.db, "hard_limit", model.RuleTypeAmountThreshold,
		`{"thresholdCents": 5000}`, 10, model.FraudActionBlock)

	_, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.ErrorIs(t, err, ErrFraudBlocked)
	assert.Contains(t, err.Error(), "hard_limit")

	// 拦截发生在任何落库之前
	assert.Equal(t, int64(0), f.countTransactions(t))
	assert.Equal(t, int64(20000), f.balance(t, f.sender.ID))
}

func TestProcessTransferFlaggedButCompleted(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 2000000002)
	// 40 + 35 = 75 >= 70，标记但不拦截
	createTestRule(t, f.db, "large_amount", model.RuleTypeAmountThreshold,
		`{"thresholdCents": 1000000000}`, 40, model.FraudActionFlag)
	createTestRule(t, f.db, "round_amount", model.RuleTypePatternMatch,
		`{"pattern": "ROUND_AMOUNT", "divisor": 100000000}`, 35, model.FraudActionFlag)

	result, err := f.svc.ProcessTransfer(ctx, f.request(1500000000))
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, result.Status)
	assert.True(t, result.IsFlagged)
	assert.Equal(t, 75, result.FraudScore)

	txn, err := repository.NewTransactionRepository(f.db).GetByID(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Contains(t, txn.FraudReason, "large_amount")
	assert.Contains(t, txn.FraudReason, "round_amount")
}

func TestProcessTransferValidationRejected(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)
	f.validator.reject(f.receiver.UserID, "接收方 KYC 未完成")

	_, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.ErrorIs(t, err, ErrValidationRejected)
	assert.Contains(t, err.Error(), "KYC")
	assert.Equal(t, int64(0), f.countTransactions(t))
}

func TestProcessTransferFrozenWallet(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)
	require.NoError(t, repository.NewWalletRepository(f.db).
		SetFrozen(ctx, f.sender.ID, true, "调查中"))

	_, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.ErrorIs(t, err, ErrWalletFrozen)
	assert.Contains(t, err.Error(), "调查中")
	assert.Equal(t, int64(0), f.countTransactions(t))
}

func TestProcessTransferInactiveWallet(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)
	require.NoError(t, f.db.Model(&model.Wallet{}).
		Where("id = ?", f.receiver.ID).
		Update("is_active", false).Error)

	_, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.ErrorIs(t, err, ErrWalletInactive)
}

func TestProcessTransferWalletNotFound(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)

	req := f.request(10000)
	req.ToUserID = uuid.New() // 没开过户

	_, err := f.svc.ProcessTransfer(ctx, req)
	require.ErrorIs(t, err, repository.ErrWalletNotFound)
}

func TestProcessTransferIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)

	req := f.request(10000)
	first, err := f.svc.ProcessTransfer(ctx, req)
	require.NoError(t, err)

	// 同键重放：返回首次结果，不重复记账
	second, err := f.svc.ProcessTransfer(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.ReferenceNo, second.ReferenceNo)
	assert.Equal(t, first.Status, second.Status)

	assert.Equal(t, int64(1), f.countTransactions(t))
	assert.Equal(t, int64(3), f.countEntries(t)) // 铺底 1 + 转账 2
	assert.Equal(t, int64(10000), f.balance(t, f.sender.ID))
}

func TestProcessTransferConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 100000)

	req := f.request(10000)
	const n = 5

	results := make([]*TransferResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.ProcessTransfer(ctx, req)
		}(i)
	}
	wg.Wait()

	// 恰好一次：所有并发请求都拿到同一笔交易，钱只动一次
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "请求 %d", i)
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].TransactionID, results[i].TransactionID)
	}
	assert.Equal(t, int64(1), f.countTransactions(t))
	assert.Equal(t, int64(90000), f.balance(t, f.sender.ID))
	assert.Equal(t, int64(10000), f.balance(t, f.receiver.ID))
}

func TestProcessTransferConcurrentNoOverdraft(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 10000)

	// 两笔不同幂等键的 8000 分转账抢同一个钱包，只能成一笔
	reqA := f.request(8000)
	reqB := f.request(8000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []*TransferRequest{reqA, reqB} {
		wg.Add(1)
		go func(i int, req *TransferRequest) {
			defer wg.Done()
			_, errs[i] = f.svc.ProcessTransfer(ctx, req)
		}(i, req)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrBalanceNotEnough)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(2000), f.balance(t, f.sender.ID))
	assert.Equal(t, int64(8000), f.balance(t, f.receiver.ID))
}

func TestGetTransactionDetail(t *testing.T) {
	ctx := context.Background()
	f := newTransferFixture(t)
	fundWallet(t, f.db, f.sender, 20000)

	result, err := f.svc.ProcessTransfer(ctx, f.request(10000))
	require.NoError(t, err)

	detail, err := f.svc.GetTransactionDetail(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, detail.Transaction.ID)
	assert.Len(t, detail.LedgerEntries, 2)

	_, err = f.svc.GetTransactionDetail(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}
