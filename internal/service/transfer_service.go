package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"walletpay/internal/client"
	"walletpay/internal/config"
	"walletpay/internal/infrastructure/lock"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 错误分类（见 pkg/response 的业务码映射）
var (
	ErrSameUserTransfer   = errors.New("不能给自己转账")
	ErrFraudBlocked       = errors.New("交易被风控拦截")
	ErrValidationRejected = errors.New("用户校验未通过")
	ErrWalletInactive     = errors.New("钱包未激活")
	ErrWalletFrozen       = errors.New("钱包已冻结")
	ErrBalanceNotEnough   = errors.New("余额不足")
	ErrLedgerWriteFailed  = errors.New("记账失败")
)

// TransferService 转账处理器
// 系统中唯一允许创建 Transaction 和 LedgerEntry 的入口，
// 所有跨组件不变式（借贷平衡、恰好一次、不透支）都在这里收口。
type TransferService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config

	walletRepo *repository.WalletRepository
	txnRepo    *repository.TransactionRepository
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository

	idempotency *IdempotencyService
	fraud       *FraudService
	validator   client.UserValidator
	usage       client.UsageRecorder
}

func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config,
	validator client.UserValidator, usage client.UsageRecorder) *TransferService {
	return &TransferService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		walletRepo:  repository.NewWalletRepository(db),
		txnRepo:     repository.NewTransactionRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		idempotency: NewIdempotencyService(db, redisClient, cfg),
		fraud:       NewFraudService(db),
		validator:   validator,
		usage:       usage,
	}
}

// Idempotency 暴露幂等服务（路由层的幂等查询接口复用）
func (s *TransferService) Idempotency() *IdempotencyService {
	return s.idempotency
}

// Fraud 暴露风控引擎（规则刷新任务复用）
func (s *TransferService) Fraud() *FraudService {
	return s.fraud
}

// ProcessTransfer 处理一笔 P2P 转账
//
// 【关键点】处理顺序是精心安排的：
// 1. 幂等检查最先——命中直接返回缓存结果，不重新校验、不重新评分
// 2. 风控先于远程校验——本地检查便宜，被拦截的请求不值得一次外呼
// 3. 余额推导和写分录必须在同一个数据库事务里，外加付款钱包行锁，
//    否则两笔并发转账会同时看到"余额足够"然后双双成功透支
// 4. 用量上报在原子边界之外，失败只记日志，永不回滚已完成的交易
func (s *TransferService) ProcessTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	log.Printf("处理转账: key=%s, from=%s, to=%s, amount=%d",
		req.IdempotencyKey, req.FromUserID, req.ToUserID, req.AmountCents)

	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("转账金额必须大于0: %d", req.AmountCents)
	}

	// 1. 幂等检查
	cached, err := s.idempotency.Lookup(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		log.Printf("幂等命中，返回缓存结果: key=%s, txn=%s", req.IdempotencyKey, cached.TransactionID)
		return cached, nil
	}

	// 2. 拒绝自转
	if req.FromUserID == req.ToUserID {
		return nil, ErrSameUserTransfer
	}

	// 3. 风控评估（先于外呼）。拦截的请求不落库——拦截发生在任何提交之前
	fraudResult, err := s.fraud.Evaluate(ctx, req, req.FromUserID)
	if err != nil {
		return nil, fmt.Errorf("风控评估失败: %w", err)
	}
	if fraudResult.ShouldBlock {
		log.Printf("转账被风控拦截: key=%s, score=%d, rules=%v",
			req.IdempotencyKey, fraudResult.TotalScore, fraudResult.TriggeredRules)
		return nil, fmt.Errorf("%w: %s", ErrFraudBlocked, strings.Join(fraudResult.TriggeredRules, ", "))
	}
	if fraudResult.ShouldFlag {
		log.Printf("转账被标记待复核: key=%s, score=%d, rules=%v",
			req.IdempotencyKey, fraudResult.TotalScore, fraudResult.TriggeredRules)
	}

	// 4. 远程用户校验：发送方 + 接收方，任一拒绝即中止
	if err := s.validateUser(ctx, req.FromUserID, req.AmountCents, client.DirectionSend); err != nil {
		return nil, err
	}
	if err := s.validateUser(ctx, req.ToUserID, req.AmountCents, client.DirectionReceive); err != nil {
		return nil, err
	}

	// 5. 加载钱包并校验状态
	fromWallet, err := s.walletRepo.GetByUserID(ctx, req.FromUserID)
	if err != nil {
		return nil, fmt.Errorf("付款钱包: %w", err)
	}
	toWallet, err := s.walletRepo.GetByUserID(ctx, req.ToUserID)
	if err != nil {
		return nil, fmt.Errorf("收款钱包: %w", err)
	}
	if err := checkWalletState(fromWallet, "付款钱包"); err != nil {
		return nil, err
	}
	if err := checkWalletState(toWallet, "收款钱包"); err != nil {
		return nil, err
	}

	// 获取付款钱包维度的分布式锁
	transferLock := lock.NewTransferLock(s.redisClient, fromWallet.ID, req.IdempotencyKey)
	if err := transferLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer transferLock.Unlock(ctx)

	// 获取锁后再次检查幂等（锁外等待期间同键请求可能已完成）
	cached, err = s.idempotency.Lookup(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	// 6. 余额预检（推导余额，见 LedgerRepository.GetBalance）
	// 不足时落一条 FAILED 审计行再报错——这是唯一"失败也落库"的分支
	balance, err := s.ledgerRepo.GetBalance(ctx, nil, fromWallet.ID)
	if err != nil {
		return nil, fmt.Errorf("推导余额失败: %w", err)
	}
	if balance < req.AmountCents {
		s.persistInsufficientAudit(ctx, req, fromWallet, toWallet, fraudResult)
		log.Printf("余额不足: wallet=%s, balance=%d, required=%d", fromWallet.ID, balance, req.AmountCents)
		return nil, fmt.Errorf("%w: 余额 %d 分，需要 %d 分", ErrBalanceNotEnough, balance, req.AmountCents)
	}

	// 7. 创建 PROCESSING 交易行，盖上风控评分
	key := req.IdempotencyKey
	txn := s.buildTransaction(req, fromWallet, toWallet, model.TransactionStatusProcessing, fraudResult)
	txn.IdempotencyKey = &key
	if err := s.txnRepo.Create(ctx, nil, txn); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// 并发重放穿透到了唯一索引：回源数据库返回已有结果
			return s.resolveConcurrentReplay(ctx, req.IdempotencyKey)
		}
		return nil, fmt.Errorf("创建交易失败: %w", err)
	}

	// 8-9. 记账事务：行锁 + 余额复核 + 两条平衡分录 + 状态置 COMPLETED + 发件箱
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 行锁挡住同钱包的并发事务，锁内复核余额才是权威判定
		if _, err := s.walletRepo.GetByIDForUpdate(ctx, tx, fromWallet.ID); err != nil {
			return err
		}
		lockedBalance, err := s.ledgerRepo.GetBalance(ctx, tx, fromWallet.ID)
		if err != nil {
			return fmt.Errorf("推导余额失败: %w", err)
		}
		if lockedBalance < req.AmountCents {
			return fmt.Errorf("%w: 余额 %d 分，需要 %d 分", ErrBalanceNotEnough, lockedBalance, req.AmountCents)
		}

		// 两条分录要么都成功要么都不存在：
		// 付款方 CREDIT（资产减少），收款方 DEBIT（资产增加），共享 transaction_id
		fromEntry := &model.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			GLAccountCode: fromWallet.GLAccountCode,
			WalletID:      &fromWallet.ID,
			EntryType:     model.EntryTypeCredit,
			AmountCents:   req.AmountCents,
			Description:   fmt.Sprintf("转账给用户 %s", toWallet.UserID),
		}
		if err := s.ledgerRepo.Create(ctx, tx, fromEntry); err != nil {
			return fmt.Errorf("写付款分录失败: %w", err)
		}

		toEntry := &model.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			GLAccountCode: toWallet.GLAccountCode,
			WalletID:      &toWallet.ID,
			EntryType:     model.EntryTypeDebit,
			AmountCents:   req.AmountCents,
			Description:   fmt.Sprintf("来自用户 %s 的转账", fromWallet.UserID),
		}
		if err := s.ledgerRepo.Create(ctx, tx, toEntry); err != nil {
			return fmt.Errorf("写收款分录失败: %w", err)
		}

		if err := s.txnRepo.UpdateStatus(ctx, tx, txn.ID,
			model.TransactionStatusProcessing, model.TransactionStatusCompleted); err != nil {
			return fmt.Errorf("更新交易状态失败: %w", err)
		}

		return s.writeTransferEvent(ctx, tx, txn)
	})

	if err != nil {
		// 事务整体回滚，交易行滞留在 PROCESSING，标记 FAILED 后向上抛
		s.markFailed(ctx, txn.ID, req.IdempotencyKey)
		if errors.Is(err, ErrBalanceNotEnough) {
			return nil, err
		}
		log.Printf("记账失败: txn=%s, err=%v", txn.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrLedgerWriteFailed, err)
	}

	// 回读已提交的交易行，保证响应与后续幂等回源逐字节一致
	committed, err := s.txnRepo.GetByID(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	log.Printf("转账完成: txn=%s, ref=%s, amount=%d, flagged=%v",
		committed.ID, committed.ReferenceNo, committed.AmountCents, committed.IsFlagged)

	// 10. 异步用量上报（两条腿），游离于请求生命周期之外
	s.recordUsageAsync(req.FromUserID, req.AmountCents, client.DirectionSend, committed.ID)
	s.recordUsageAsync(req.ToUserID, req.AmountCents, client.DirectionReceive, committed.ID)

	// 11. 构造响应并写入幂等缓存
	result := BuildTransferResult(committed)
	s.idempotency.Store(ctx, req.IdempotencyKey, result)
	return result, nil
}

// GetTransactionDetail 交易详情：交易行 + 按序分录
func (s *TransferService) GetTransactionDetail(ctx context.Context, transactionID uuid.UUID) (*TransactionDetail, error) {
	txn, err := s.txnRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledgerRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return &TransactionDetail{Transaction: txn, LedgerEntries: entries}, nil
}

// GetByIdempotencyKey 幂等查询接口：命中返回结果，未命中返回 nil
func (s *TransferService) GetByIdempotencyKey(ctx context.Context, key uuid.UUID) (*TransferResult, error) {
	return s.idempotency.Lookup(ctx, key)
}

// ============================================================================
// 内部辅助
// ============================================================================

func (s *TransferService) validateUser(ctx context.Context, userID uuid.UUID, amountCents int64, direction string) error {
	result, err := s.validator.ValidateUser(ctx, userID, amountCents, direction)
	if err != nil {
		return fmt.Errorf("用户校验调用失败(%s): %w", direction, err)
	}
	if !result.IsValid {
		log.Printf("用户校验被拒: user=%s, direction=%s, reason=%s", userID, direction, result.Reason)
		return fmt.Errorf("%w: %s", ErrValidationRejected, result.Reason)
	}
	return nil
}

func checkWalletState(wallet *model.Wallet, label string) error {
	if !wallet.IsActive {
		return fmt.Errorf("%w: %s", ErrWalletInactive, label)
	}
	if wallet.IsFrozen {
		return fmt.Errorf("%w: %s(%s)", ErrWalletFrozen, label, wallet.FreezeReason)
	}
	return nil
}

func (s *TransferService) buildTransaction(req *TransferRequest, fromWallet, toWallet *model.Wallet,
	status string, fraudResult *EvaluationResult) *model.Transaction {
	txn := &model.Transaction{
		ID:           uuid.New(),
		ReferenceNo:  idgen.GenerateReferenceNo(),
		FromWalletID: fromWallet.ID,
		ToWalletID:   toWallet.ID,
		FromUserID:   req.FromUserID,
		ToUserID:     req.ToUserID,
		AmountCents:  req.AmountCents,
		Currency:     fromWallet.Currency,
		Type:         model.TransactionTypeTransfer,
		Status:       status,
		Description:  req.Description,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		IsFlagged:    fraudResult.ShouldFlag,
		FraudScore:   fraudResult.TotalScore,
	}
	if fraudResult.ShouldFlag {
		txn.FraudReason = "触发规则: " + strings.Join(fraudResult.TriggeredRules, ", ")
	}
	return txn
}

// persistInsufficientAudit 余额不足时落 FAILED 审计行
// 【关键点】审计行不带幂等键：同键重试要重新走完整流程（余额可能已经变化），
// 审计行本身写失败只记日志，不掩盖余额不足这个主错误。
func (s *TransferService) persistInsufficientAudit(ctx context.Context, req *TransferRequest,
	fromWallet, toWallet *model.Wallet, fraudResult *EvaluationResult) {
	audit := s.buildTransaction(req, fromWallet, toWallet, model.TransactionStatusFailed, fraudResult)
	if err := s.txnRepo.Create(ctx, nil, audit); err != nil {
		log.Printf("写余额不足审计行失败: key=%s, err=%v", req.IdempotencyKey, err)
	}
}

// resolveConcurrentReplay 幂等键撞唯一索引后的回源
// 走到这里说明另一个并发请求先插入了同键交易，直接信任库里的行。
func (s *TransferService) resolveConcurrentReplay(ctx context.Context, key uuid.UUID) (*TransferResult, error) {
	txn, err := s.txnRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, fmt.Errorf("幂等键冲突但回源未找到交易: key=%s", key)
	}
	log.Printf("并发重放回源: key=%s, txn=%s, status=%s", key, txn.ID, txn.Status)
	return BuildTransferResult(txn), nil
}

func (s *TransferService) markFailed(ctx context.Context, transactionID uuid.UUID, key uuid.UUID) {
	if err := s.txnRepo.UpdateStatus(ctx, nil, transactionID,
		model.TransactionStatusProcessing, model.TransactionStatusFailed); err != nil {
		log.Printf("标记交易失败状态失败: txn=%s, err=%v", transactionID, err)
	}
	// 快路径缓存可能被并发回源填入 PROCESSING 结果，清掉给重试让路
	s.idempotency.Invalidate(ctx, key)
}

// writeTransferEvent 转账完成事件进发件箱（与记账同事务）
func (s *TransferService) writeTransferEvent(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	event := map[string]interface{}{
		"transaction_id": txn.ID.String(),
		"reference_no":   txn.ReferenceNo,
		"from_user_id":   txn.FromUserID.String(),
		"to_user_id":     txn.ToUserID.String(),
		"amount_cents":   txn.AmountCents,
		"currency":       txn.Currency,
		"status":         model.TransactionStatusCompleted,
		"is_flagged":     txn.IsFlagged,
		"fraud_score":    txn.FraudScore,
		"completed_at":   time.Now().Format(time.RFC3339),
	}
	payload, _ := json.Marshal(event)

	msg := &model.OutboxMessage{
		MessageKey: txn.ID.String(),
		Topic:      s.cfg.Kafka.Topic.TransferResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}

// recordUsageAsync 用量上报：游离 goroutine，结果只进日志
// 请求取消、上报失败都不影响已落账的交易——财务结果在第 9 步之后就是终局。
func (s *TransferService) recordUsageAsync(userID uuid.UUID, amountCents int64, direction string, transactionID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.usage.RecordTransaction(ctx, userID, amountCents, direction, transactionID); err != nil {
			log.Printf("用量上报失败: user=%s, direction=%s, txn=%s, err=%v",
				userID, direction, transactionID, err)
			return
		}
		log.Printf("用量上报成功: user=%s, direction=%s, txn=%s", userID, direction, transactionID)
	}()
}
