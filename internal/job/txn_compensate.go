package job

import (
	"context"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/model"
	"walletpay/internal/repository"

	"gorm.io/gorm"
)

// StuckTransactionJob 补偿滞留在 PROCESSING 的交易
//
// 记账事务要么整体提交要么整体回滚，所以滞留行只有两种真相：
// - 分录已提交但进程在状态更新前崩溃 → 补成 COMPLETED
// - 事务被回滚、失败标记没写上 → 补成 FAILED
// 以分录是否存在为准，补偿本身用 CAS 更新，和在线请求竞争也安全。
type StuckTransactionJob struct {
	db         *gorm.DB
	txnRepo    *repository.TransactionRepository
	ledgerRepo *repository.LedgerRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewStuckTransactionJob(db *gorm.DB, cfg *config.Config) *StuckTransactionJob {
	return &StuckTransactionJob{
		db:         db,
		txnRepo:    repository.NewTransactionRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   30 * time.Second,
		batchSize:  50,
	}
}

func (j *StuckTransactionJob) Start(ctx context.Context) {
	log.Println("[StuckTransactionJob] 滞留交易补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[StuckTransactionJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[StuckTransactionJob] 任务停止")
			return
		case <-ticker.C:
			j.compensateStuckTransactions(ctx)
		}
	}
}

func (j *StuckTransactionJob) Stop() {
	close(j.stopCh)
}

func (j *StuckTransactionJob) compensateStuckTransactions(ctx context.Context) {
	stuckMinutes := j.cfg.Business.StuckProcessingMinutes
	if stuckMinutes <= 0 {
		stuckMinutes = 5
	}
	beforeTime := time.Now().Add(-time.Duration(stuckMinutes) * time.Minute)

	txns, err := j.txnRepo.GetStuckProcessing(ctx, beforeTime, j.batchSize)
	if err != nil {
		log.Printf("[StuckTransactionJob] 查询滞留交易失败: %v", err)
		return
	}

	if len(txns) == 0 {
		return
	}

	log.Printf("[StuckTransactionJob] 发现 %d 笔滞留交易", len(txns))

	for _, txn := range txns {
		j.compensate(ctx, txn)
	}
}

func (j *StuckTransactionJob) compensate(ctx context.Context, txn *model.Transaction) {
	entries, err := j.ledgerRepo.GetByTransactionID(ctx, txn.ID)
	if err != nil {
		log.Printf("[StuckTransactionJob] 查询分录失败: txn=%s, err=%v", txn.ID, err)
		return
	}

	if len(entries) > 0 {
		// 分录在，说明记账事务已提交，只是状态没翻过去
		err := j.txnRepo.UpdateStatus(ctx, nil, txn.ID,
			model.TransactionStatusProcessing, model.TransactionStatusCompleted)
		if err != nil {
			log.Printf("[StuckTransactionJob] 补偿为完成失败: txn=%s, err=%v", txn.ID, err)
		} else {
			log.Printf("[StuckTransactionJob] 发现已记账的滞留交易，补偿为 COMPLETED: txn=%s, ref=%s",
				txn.ID, txn.ReferenceNo)
		}
		return
	}

	// 无分录，记账从未提交
	err = j.txnRepo.UpdateStatus(ctx, nil, txn.ID,
		model.TransactionStatusProcessing, model.TransactionStatusFailed)
	if err != nil {
		log.Printf("[StuckTransactionJob] 补偿为失败状态失败: txn=%s, err=%v", txn.ID, err)
	} else {
		log.Printf("[StuckTransactionJob] 滞留交易无分录，补偿为 FAILED: txn=%s, ref=%s", txn.ID, txn.ReferenceNo)
	}
}
