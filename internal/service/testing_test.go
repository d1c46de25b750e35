package service

import (
	"context"
	"sync"
	"testing"

	"walletpay/internal/client"
	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接各自独立，必须钉死单连接
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Wallet{},
		&model.Transaction{},
		&model.LedgerEntry{},
		&model.FraudRule{},
		&model.OutboxMessage{},
	))

	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				TransferResult: "transfer-result",
				UsageRecord:    "usage-record",
			},
		},
		Business: config.BusinessConfig{
			IdempotencyTTLHours: 24,
			MaxRetryCount:       5,
		},
	}
}

// ============================================================================
// 外部依赖的测试替身
// ============================================================================

// fakeValidator 内存版用户校验：默认全部放行，可按用户配置拒绝
type fakeValidator struct {
	mu      sync.Mutex
	rejects map[uuid.UUID]string // userID -> 拒绝原因
	calls   int
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{rejects: make(map[uuid.UUID]string)}
}

func (f *fakeValidator) reject(userID uuid.UUID, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[userID] = reason
}

func (f *fakeValidator) ValidateUser(_ context.Context, userID uuid.UUID, _ int64, _ string) (*client.ValidateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if reason, ok := f.rejects[userID]; ok {
		return &client.ValidateResult{IsValid: false, Reason: reason}, nil
	}
	return &client.ValidateResult{IsValid: true, KYCStatus: "VERIFIED", KYCTier: "TIER_2"}, nil
}

type usageRecord struct {
	UserID        uuid.UUID
	AmountCents   int64
	Direction     string
	TransactionID uuid.UUID
}

// fakeUsageRecorder 内存版用量上报
type fakeUsageRecorder struct {
	mu      sync.Mutex
	records []usageRecord
}

func (f *fakeUsageRecorder) RecordTransaction(_ context.Context, userID uuid.UUID, amountCents int64, direction string, transactionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, usageRecord{
		UserID:        userID,
		AmountCents:   amountCents,
		Direction:     direction,
		TransactionID: transactionID,
	})
	return nil
}

func (f *fakeUsageRecorder) recorded() []usageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]usageRecord, len(f.records))
	copy(out, f.records)
	return out
}

// ============================================================================
// 数据铺底
// ============================================================================

func createTestWallet(t *testing.T, db *gorm.DB, walletType string) *model.Wallet {
	t.Helper()
	glCode, ok := model.GLAccountCodeForWalletType(walletType)
	require.True(t, ok)

	wallet := &model.Wallet{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		GLAccountCode: glCode,
		WalletType:    walletType,
		Currency:      "VND",
		IsActive:      true,
	}
	require.NoError(t, repository.NewWalletRepository(db).Create(context.Background(), wallet))
	return wallet
}

// fundWallet 给钱包铺底入金（借方分录）
func fundWallet(t *testing.T, db *gorm.DB, wallet *model.Wallet, amountCents int64) {
	t.Helper()
	entry := &model.LedgerEntry{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		GLAccountCode: wallet.GLAccountCode,
		WalletID:      &wallet.ID,
		EntryType:     model.EntryTypeDebit,
		AmountCents:   amountCents,
		Description:   "测试铺底入金",
	}
	require.NoError(t, repository.NewLedgerRepository(db).Create(context.Background(), nil, entry))
}

func createTestRule(t *testing.T, db *gorm.DB, name, ruleType, parameters string, penalty int, action string) {
	t.Helper()
	rule := &model.FraudRule{
		ID:               uuid.New(),
		RuleName:         name,
		RuleType:         ruleType,
		Parameters:       parameters,
		RiskScorePenalty: penalty,
		Action:           action,
		IsActive:         true,
	}
	require.NoError(t, repository.NewFraudRuleRepository(db).Create(context.Background(), rule))
}
