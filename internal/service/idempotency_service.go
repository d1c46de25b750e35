package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ============================================================================
// 幂等服务：Redis 快路径 + 数据库兜底
// ============================================================================
//
// 【关键点】两层的职责划分：
//   - Redis 只是加速器，命中率高但可丢（宕机、TTL 过期）
//   - transactions 表的幂等键唯一索引才是事实来源
// Redis 不可用等价于缓存未命中，绝不等价于"第一次见到这个请求"——
// 快路径 miss 之后必须查库兜底，库里有就回填 Redis（懒修复）。
//
// ============================================================================

const idempotencyKeyPrefix = "idempotency:"

type IdempotencyService struct {
	redisClient *redis.Client
	txnRepo     *repository.TransactionRepository
	ttl         time.Duration
}

func NewIdempotencyService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *IdempotencyService {
	ttlHours := cfg.Business.IdempotencyTTLHours
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &IdempotencyService{
		redisClient: redisClient,
		txnRepo:     repository.NewTransactionRepository(db),
		ttl:         time.Duration(ttlHours) * time.Hour,
	}
}

func cacheKey(key uuid.UUID) string {
	return idempotencyKeyPrefix + key.String()
}

// Lookup 查询幂等键对应的已处理结果
// 返回 nil 表示两层都没有，请求是新的。
func (s *IdempotencyService) Lookup(ctx context.Context, key uuid.UUID) (*TransferResult, error) {
	// 快路径：Redis。读失败按 miss 处理，继续走兜底
	data, err := s.redisClient.Get(ctx, cacheKey(key)).Bytes()
	if err == nil {
		var result TransferResult
		if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr == nil {
			return &result, nil
		}
		log.Printf("[Idempotency] 缓存内容损坏，回落数据库: key=%s", key)
	} else if err != redis.Nil {
		log.Printf("[Idempotency] Redis 读取失败，回落数据库: key=%s, err=%v", key, err)
	}

	// 兜底：数据库
	txn, err := s.txnRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("查询幂等记录失败: %w", err)
	}
	if txn == nil {
		return nil, nil
	}

	// 懒修复：回填 Redis，下次命中快路径
	result := BuildTransferResult(txn)
	s.Store(ctx, key, result)
	return result, nil
}

// Store 写入快路径缓存
// 【关键点】写失败只记日志，绝不影响交易完成——库里的交易行才是权威记录。
func (s *IdempotencyService) Store(ctx context.Context, key uuid.UUID, result *TransferResult) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("[Idempotency] 序列化响应失败: key=%s, err=%v", key, err)
		return
	}
	if err := s.redisClient.Set(ctx, cacheKey(key), data, s.ttl).Err(); err != nil {
		log.Printf("[Idempotency] 写入缓存失败: key=%s, err=%v", key, err)
	}
}

// Invalidate 仅删除快路径缓存
// 部分处理后失败时调用，给合法重试让路；持久化历史永远不删。
func (s *IdempotencyService) Invalidate(ctx context.Context, key uuid.UUID) {
	if err := s.redisClient.Del(ctx, cacheKey(key)).Err(); err != nil {
		log.Printf("[Idempotency] 删除缓存失败: key=%s, err=%v", key, err)
	}
}

// Exists 轻量存在性检查，不物化完整响应
func (s *IdempotencyService) Exists(ctx context.Context, key uuid.UUID) (bool, error) {
	n, err := s.redisClient.Exists(ctx, cacheKey(key)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if err != nil {
		log.Printf("[Idempotency] Redis 存在性检查失败，回落数据库: key=%s, err=%v", key, err)
	}

	txn, err := s.txnRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return false, err
	}
	return txn != nil, nil
}
