package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码与错误分类一一对应（见 service 层哨兵错误）
const (
	CodeTransactionNotFound = 1001
	CodeWalletNotFound      = 1002
	CodeBalanceNotEnough    = 1003
	CodeWalletState         = 1004 // 钱包未激活或已冻结
	CodeFraudBlocked        = 1005 // 风控拦截
	CodeValidationRejected  = 1006 // 远程用户校验拒绝（KYC/限额）
	CodeSameUserTransfer    = 1007
	CodeTransferFailed      = 1008
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, CodeNotFound, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
