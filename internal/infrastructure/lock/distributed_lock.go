package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：同一个钱包同时发起两笔转账（网络抖动导致的重复提交、或恶意并发）
//
// 没有锁时：
//   goroutine1: 推导余额=100 -> 记账100 -> 余额=0   OK
//   goroutine2: 推导余额=100 -> 记账100 -> 余额=-100 透支了！
//
// 加锁后同一钱包的转账串行执行，第二笔在推导余额时看到 0，直接拒绝。
// 数据库事务内的行锁是正确性兜底，分布式锁把冲突挡在事务之外，减少回滚。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	// SET key value NX EX timeout
	// 持有锁的进程崩溃时锁会随 EX 自动释放
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】必须先验证 value 再删除：
// A 获取锁 -> A 处理超时锁过期 -> B 获取锁 -> A 执行完调用 Unlock，
// 不验证 value 的话 A 会把 B 的锁删掉。Lua 脚本保证"检查-删除"原子。
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：按付款钱包维度的转账锁
// ============================================================================

// NewTransferLock 创建转账锁（按付款钱包维度）
//
// 【设计思考】为什么按付款钱包加锁而不是全局锁？
// 不同钱包的转账互不影响，可以并发；同一钱包的并发转账正是要串行化的
// （两笔并发都读到足够余额会导致透支）。value 使用幂等键，便于追踪持有者。
func NewTransferLock(client *redis.Client, walletID uuid.UUID, idempotencyKey uuid.UUID) *DistributedLock {
	key := fmt.Sprintf("transfer:lock:wallet:%s", walletID)
	return NewDistributedLock(client, key, idempotencyKey.String(), 30*time.Second)
}
