package client

import (
	"context"
	"encoding/json"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/mq"

	"github.com/google/uuid"
)

// KafkaUsageRecorder 基于 Kafka 的用量上报实现
// 用量事件发到独立 topic，由用户服务侧消费累计每日额度。
// 上报属于交易原子边界之外的旁路，发送失败只记日志（调用方负责）。
type KafkaUsageRecorder struct {
	topic string
}

func NewKafkaUsageRecorder(cfg *config.KafkaConfig) *KafkaUsageRecorder {
	return &KafkaUsageRecorder{topic: cfg.Topic.UsageRecord}
}

type usageRecordEvent struct {
	UserID        string `json:"user_id"`
	AmountCents   int64  `json:"amount_cents"`
	Direction     string `json:"direction"`
	TransactionID string `json:"transaction_id"`
	RecordedAt    string `json:"recorded_at"`
}

func (r *KafkaUsageRecorder) RecordTransaction(_ context.Context, userID uuid.UUID, amountCents int64, direction string, transactionID uuid.UUID) error {
	payload, err := json.Marshal(&usageRecordEvent{
		UserID:        userID.String(),
		AmountCents:   amountCents,
		Direction:     direction,
		TransactionID: transactionID.String(),
		RecordedAt:    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return mq.SendMessage(r.topic, transactionID.String(), string(payload))
}
