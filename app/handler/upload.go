package handler

import (
	"net/http"
	"strconv"

	"autoclip/app/logger"
	"autoclip/app/service"

	"github.com/gin-gonic/gin"
)

// UploadHandler 处理平台上传相关请求
type UploadHandler struct {
	logger  *logger.Logger
	service *service.UploadService
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(log *logger.Logger, svc *service.UploadService) *UploadHandler {
	return &UploadHandler{
		logger:  log,
		service: svc,
	}
}

// SubmitUploadRequest 提交上传请求结构
type SubmitUploadRequest struct {
	AccountID   uint   `json:"account_id" binding:"required"`
	ClipID      string `json:"clip_id" binding:"required"`
	Title       string `json:"title"`
	PartitionID int    `json:"partition_id"`
	Tags        string `json:"tags"`
}

// Submit 提交上传任务
func (h *UploadHandler) Submit(c *gin.Context) {
	var req SubmitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	r, err := h.service.Submit(req.AccountID, req.ClipID, req.Title, req.PartitionID, req.Tags)
	if err != nil {
		respondError(c, http.StatusBadRequest, 400, err.Error())
		return
	}
	respondOK(c, r, "上传任务已提交")
}

// Get 查询上传记录，轮询接口
func (h *UploadHandler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Param("id"))
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, r, "ok")
}

// List 分页查询上传记录
func (h *UploadHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := h.service.List(c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, gin.H{"items": records, "total": total}, "ok")
}

// Retry 重试失败的上传
func (h *UploadHandler) Retry(c *gin.Context) {
	r, err := h.service.Retry(c.Param("id"))
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, r, "上传任务已重试")
}

// Cancel 取消上传
func (h *UploadHandler) Cancel(c *gin.Context) {
	r, err := h.service.Cancel(c.Param("id"))
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, r, "取消请求已发出")
}

// Delete 删除终态上传记录
func (h *UploadHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Param("id")); err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, nil, "上传记录已删除")
}
