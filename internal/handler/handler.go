package handler

import (
	"errors"

	"walletpay/internal/client"
	"walletpay/internal/config"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	transferService *service.TransferService
	walletService   *service.WalletService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config,
	validator client.UserValidator, usage client.UsageRecorder) *Handler {
	return &Handler{
		transferService: service.NewTransferService(db, rdb, cfg, validator, usage),
		walletService:   service.NewWalletService(db),
	}
}

// TransferService 暴露转账服务（后台任务复用同一实例）
func (h *Handler) TransferService() *service.TransferService {
	return h.transferService
}

// ============================================================
// 转账相关接口
// ============================================================

// ExecuteTransferRequest 转账请求
type ExecuteTransferRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required,uuid"` // 幂等键，客户端生成
	FromUserID     string `json:"from_user_id" binding:"required,uuid"`
	ToUserID       string `json:"to_user_id" binding:"required,uuid"`
	AmountCents    int64  `json:"amount_cents" binding:"required,gt=0"` // 金额，单位分
	Description    string `json:"description"`
}

// ExecuteTransfer 执行 P2P 转账
// POST /api/v1/transfer/execute
//
// 【关键点】转账是整个系统最核心的操作，需要保证：
// 1. 幂等性：相同的 idempotency_key 只会执行一次，重放返回首次结果
// 2. 原子性：两条会计分录、状态更新必须同时成功或同时失败
// 3. 并发安全：余额检查和记账在同一个事务里，配合付款钱包行锁防止透支
func (h *Handler) ExecuteTransfer(c *gin.Context) {
	var req ExecuteTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	key, _ := uuid.Parse(req.IdempotencyKey)
	fromUserID, _ := uuid.Parse(req.FromUserID)
	toUserID, _ := uuid.Parse(req.ToUserID)

	transferReq := &service.TransferRequest{
		IdempotencyKey: key,
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		AmountCents:    req.AmountCents,
		Description:    req.Description,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	}

	result, err := h.transferService.ProcessTransfer(c.Request.Context(), transferReq)
	if err != nil {
		writeTransferError(c, err)
		return
	}

	response.Success(c, result)
}

// GetTransferDetail 查询交易详情（含会计分录）
// GET /api/v1/transfer/detail?transaction_id=xxx
func (h *Handler) GetTransferDetail(c *gin.Context) {
	transactionID, err := uuid.Parse(c.Query("transaction_id"))
	if err != nil {
		response.ParamError(c, "transaction_id 参数错误")
		return
	}

	detail, err := h.transferService.GetTransactionDetail(c.Request.Context(), transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			response.BusinessError(c, response.CodeTransactionNotFound, "交易不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, detail)
}

// CheckIdempotency 幂等键查询：命中返回首次结果，未命中返回 exists=false
// GET /api/v1/transfer/idempotency?key=xxx
func (h *Handler) CheckIdempotency(c *gin.Context) {
	key, err := uuid.Parse(c.Query("key"))
	if err != nil {
		response.ParamError(c, "key 参数错误")
		return
	}

	result, err := h.transferService.GetByIdempotencyKey(c.Request.Context(), key)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if result == nil {
		response.Success(c, gin.H{"exists": false})
		return
	}

	response.Success(c, gin.H{"exists": true, "result": result})
}

// ============================================================
// 钱包相关接口
// ============================================================

// CreateWallet 开户
// POST /api/v1/wallet/create
func (h *Handler) CreateWallet(c *gin.Context) {
	var req service.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	wallet, err := h.walletService.CreateWallet(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, repository.ErrWalletExists) {
			response.BusinessError(c, response.CodeBusinessError, "用户已有钱包")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"wallet_id":       wallet.ID,
		"user_id":         wallet.UserID,
		"wallet_type":     wallet.WalletType,
		"gl_account_code": wallet.GLAccountCode,
		"currency":        wallet.Currency,
	})
}

// GetWalletBalance 查询余额（从分录实时推导）
// GET /api/v1/wallet/balance?user_id=xxx 或 ?wallet_id=xxx
func (h *Handler) GetWalletBalance(c *gin.Context) {
	var balance *service.BalanceResult
	var err error

	switch {
	case c.Query("user_id") != "":
		userID, parseErr := uuid.Parse(c.Query("user_id"))
		if parseErr != nil {
			response.ParamError(c, "user_id 参数错误")
			return
		}
		balance, err = h.walletService.GetBalance(c.Request.Context(), userID)
	case c.Query("wallet_id") != "":
		walletID, parseErr := uuid.Parse(c.Query("wallet_id"))
		if parseErr != nil {
			response.ParamError(c, "wallet_id 参数错误")
			return
		}
		balance, err = h.walletService.GetBalanceByWalletID(c.Request.Context(), walletID)
	default:
		response.ParamError(c, "user_id 或 wallet_id 必须提供一个")
		return
	}

	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			response.BusinessError(c, response.CodeWalletNotFound, "钱包不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, balance)
}

// FreezeWalletRequest 冻结/解冻请求
type FreezeWalletRequest struct {
	WalletID string `json:"wallet_id" binding:"required,uuid"`
	Frozen   *bool  `json:"frozen" binding:"required"`
	Reason   string `json:"reason"`
}

// FreezeWallet 冻结/解冻钱包
// POST /api/v1/wallet/freeze
func (h *Handler) FreezeWallet(c *gin.Context) {
	var req FreezeWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	walletID, _ := uuid.Parse(req.WalletID)
	if err := h.walletService.SetFrozen(c.Request.Context(), walletID, *req.Frozen, req.Reason); err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			response.BusinessError(c, response.CodeWalletNotFound, "钱包不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "冻结状态已更新"})
}

// ============================================================
// 错误映射
// ============================================================

// writeTransferError 把哨兵错误翻译成业务错误码
func writeTransferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSameUserTransfer):
		response.BusinessError(c, response.CodeSameUserTransfer, err.Error())
	case errors.Is(err, service.ErrFraudBlocked):
		response.BusinessError(c, response.CodeFraudBlocked, err.Error())
	case errors.Is(err, service.ErrValidationRejected):
		response.BusinessError(c, response.CodeValidationRejected, err.Error())
	case errors.Is(err, service.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrWalletInactive), errors.Is(err, service.ErrWalletFrozen):
		response.BusinessError(c, response.CodeWalletState, err.Error())
	case errors.Is(err, repository.ErrWalletNotFound):
		response.BusinessError(c, response.CodeWalletNotFound, err.Error())
	case errors.Is(err, service.ErrLedgerWriteFailed):
		response.BusinessError(c, response.CodeTransferFailed, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
