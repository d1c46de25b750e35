package handler

import (
	"walletpay/internal/client"
	"walletpay/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config,
	validator client.UserValidator, usage client.UsageRecorder) (*gin.Engine, *Handler) {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, validator, usage)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 转账相关
		transfer := api.Group("/transfer")
		{
			transfer.POST("/execute", h.ExecuteTransfer)
			transfer.GET("/detail", h.GetTransferDetail)
			transfer.GET("/idempotency", h.CheckIdempotency)
		}

		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.POST("/create", h.CreateWallet)
			wallet.GET("/balance", h.GetWalletBalance)
			wallet.POST("/freeze", h.FreezeWallet)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r, h
}
