package handler

import (
	"errors"
	"net/http"

	"autoclip/app/task"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一的API响应格式
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// respondOK 成功响应
func respondOK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// respondError 错误响应
func respondError(c *gin.Context, statusCode, errorCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    errorCode,
		Message: message,
		Data:    nil,
	})
}

// respondTaskError 把核心错误翻译为对应的HTTP响应
func respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, 404, "任务不存在")
	case errors.Is(err, task.ErrInvalidTransition):
		respondError(c, http.StatusConflict, 409, "当前状态不允许该操作")
	case errors.Is(err, task.ErrStaleUpdate):
		respondError(c, http.StatusConflict, 409, "状态已变更，请重新获取")
	case errors.Is(err, task.ErrUnsupportedSource):
		respondError(c, http.StatusBadRequest, 400, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, 500, err.Error())
	}
}
