package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"walletpay/internal/config"

	"github.com/google/uuid"
)

// 转账方向，随校验/用量上报请求传给用户服务
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// ValidateResult 用户服务校验结果
type ValidateResult struct {
	IsValid   bool   `json:"is_valid"`
	Reason    string `json:"reason"`
	KYCStatus string `json:"kyc_status"`
	KYCTier   string `json:"kyc_tier"`
}

// UserValidator 远程用户校验（KYC/限额/账户状态）
// 校验不通过时返回 IsValid=false + 原因，调用方必须中止处理。
type UserValidator interface {
	ValidateUser(ctx context.Context, userID uuid.UUID, amountCents int64, direction string) (*ValidateResult, error)
}

// UsageRecorder 用量上报（异步消费方）
// 只许失败记日志，永远不回滚已完成的交易。
type UsageRecorder interface {
	RecordTransaction(ctx context.Context, userID uuid.UUID, amountCents int64, direction string, transactionID uuid.UUID) error
}

// ============================================================================
// HTTP 实现
// ============================================================================

// UserServiceClient 用户服务 HTTP 客户端
// 所有外呼都有超时上限，超时按该步骤失败处理，绝不无限阻塞。
type UserServiceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewUserServiceClient(cfg *config.UserServiceConfig) *UserServiceClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &UserServiceClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type validateUserRequest struct {
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
	Direction   string `json:"direction"`
}

func (c *UserServiceClient) ValidateUser(ctx context.Context, userID uuid.UUID, amountCents int64, direction string) (*ValidateResult, error) {
	body, err := json.Marshal(&validateUserRequest{
		UserID:      userID.String(),
		AmountCents: amountCents,
		Direction:   direction,
	})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/api/v1/users/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用用户服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("用户服务返回异常状态: %d", resp.StatusCode)
	}

	var result ValidateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析用户服务响应失败: %w", err)
	}
	return &result, nil
}
