package job

import (
	"context"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/service"
)

// RuleRefresher 周期性把风控规则从数据库刷进内存快照
// 规则变更（上下架、调参）在下一个刷新周期生效，转账主链路永远读快照。
type RuleRefresher struct {
	fraud    *service.FraudService
	stopCh   chan struct{}
	interval time.Duration
}

func NewRuleRefresher(fraud *service.FraudService, cfg *config.Config) *RuleRefresher {
	interval := time.Duration(cfg.Business.RuleRefreshSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &RuleRefresher{
		fraud:    fraud,
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *RuleRefresher) Start(ctx context.Context) {
	log.Println("[RuleRefresher] 风控规则刷新任务启动")

	// 启动时先刷一次，失败不致命（转账链路会懒加载）
	if err := j.fraud.Refresh(ctx); err != nil {
		log.Printf("[RuleRefresher] 首次加载规则失败: %v", err)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RuleRefresher] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[RuleRefresher] 任务停止")
			return
		case <-ticker.C:
			if err := j.fraud.Refresh(ctx); err != nil {
				log.Printf("[RuleRefresher] 刷新规则失败，沿用上一份快照: %v", err)
			}
		}
	}
}

func (j *RuleRefresher) Stop() {
	close(j.stopCh)
}
