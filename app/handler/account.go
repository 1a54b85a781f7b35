package handler

import (
	"net/http"

	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"

	"github.com/gin-gonic/gin"
)

// AccountHandler 投稿平台账号管理
type AccountHandler struct {
	logger *logger.Logger
}

// NewAccountHandler 创建账号处理器
func NewAccountHandler(log *logger.Logger) *AccountHandler {
	return &AccountHandler{logger: log}
}

// AccountRequest 创建/更新账号请求结构
type AccountRequest struct {
	Platform string `json:"platform" binding:"required"`
	Nickname string `json:"nickname"`
	Cookie   string `json:"cookie" binding:"required"`
}

// Create 添加投稿账号
func (h *AccountHandler) Create(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	account := model.PlatformAccount{
		Platform: req.Platform,
		Nickname: req.Nickname,
		Cookie:   req.Cookie,
		Status:   model.AccountStatusActive,
	}
	if err := database.GetDB().Create(&account).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}

	h.logger.Infof("投稿账号已添加: ID=%d, Platform=%s", account.ID, account.Platform)
	respondOK(c, account, "账号已添加")
}

// List 账号列表
func (h *AccountHandler) List(c *gin.Context) {
	var accounts []model.PlatformAccount
	if err := database.GetDB().Find(&accounts).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, accounts, "ok")
}

// Delete 删除账号
func (h *AccountHandler) Delete(c *gin.Context) {
	if err := database.GetDB().Delete(&model.PlatformAccount{}, c.Param("id")).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, nil, "账号已删除")
}
