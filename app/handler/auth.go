package handler

import (
	"net/http"
	"time"

	"autoclip/app/auth"
	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	logger     *logger.Logger
	config     *config.Config
	jwtService *auth.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(log *logger.Logger, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		logger:     log,
		config:     cfg,
		jwtService: auth.NewJWTService(cfg),
	}
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token    string      `json:"token"`
	User     *model.User `json:"user"`
	ExpireAt int64       `json:"expire_at"`
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	var user model.User
	db := database.GetDB()
	if err := db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, 401, "用户名或密码错误")
		return
	}

	if !utils.VerifyPassword(req.Password, user.Password) {
		respondError(c, http.StatusUnauthorized, 401, "用户名或密码错误")
		return
	}

	if !user.IsActive {
		respondError(c, http.StatusForbidden, 403, "用户账号已被禁用")
		return
	}

	token, err := h.jwtService.GenerateToken(user.ID, user.Username)
	if err != nil {
		respondError(c, http.StatusInternalServerError, 500, "生成令牌失败")
		return
	}

	// 更新最后登录时间
	now := time.Now()
	user.LastLogin = &now
	db.Save(&user)

	expireAt := time.Now().Add(time.Duration(h.config.JWT.ExpireTime) * time.Hour).Unix()

	h.logger.Infof("用户登录成功: %s", user.Username)
	respondOK(c, LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: expireAt,
	}, "登录成功")
}

// Me 当前登录用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		respondError(c, http.StatusUnauthorized, 401, "未登录")
		return
	}

	var user model.User
	if err := database.GetDB().First(&user, userID).Error; err != nil {
		respondError(c, http.StatusNotFound, 404, "用户不存在")
		return
	}
	respondOK(c, user, "ok")
}

// RefreshTokenRequest 刷新令牌请求结构
type RefreshTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RefreshToken 刷新JWT令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	token, err := h.jwtService.RefreshToken(req.Token)
	if err != nil {
		respondError(c, http.StatusUnauthorized, 401, "刷新令牌失败: "+err.Error())
		return
	}
	respondOK(c, gin.H{"token": token}, "令牌已刷新")
}
