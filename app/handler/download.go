package handler

import (
	"net/http"
	"strconv"

	"autoclip/app/logger"
	"autoclip/app/service"

	"github.com/gin-gonic/gin"
)

// DownloadHandler 处理平台下载相关请求
type DownloadHandler struct {
	logger  *logger.Logger
	service *service.DownloadService
}

// NewDownloadHandler 创建下载处理器
func NewDownloadHandler(log *logger.Logger, svc *service.DownloadService) *DownloadHandler {
	return &DownloadHandler{
		logger:  log,
		service: svc,
	}
}

// SubmitDownloadRequest 提交下载请求结构
type SubmitDownloadRequest struct {
	URL         string `json:"url" binding:"required"`
	Category    string `json:"category"`
	ProjectName string `json:"project_name"`
}

// Submit 提交下载任务
func (h *DownloadHandler) Submit(c *gin.Context) {
	var req SubmitDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	t, err := h.service.Submit(req.URL, req.Category, req.ProjectName)
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, t, "下载任务已提交")
}

// Status 查询下载任务，轮询接口
func (h *DownloadHandler) Status(c *gin.Context) {
	t, err := h.service.Status(c.Param("id"))
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, gin.H{
		"id":            t.ID,
		"status":        t.Status,
		"progress":      t.Progress,
		"video_info":    t.Info(),
		"project_id":    t.ProjectID,
		"error_message": t.ErrorMessage,
	}, "ok")
}

// List 分页查询下载任务
func (h *DownloadHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tasks, total, err := h.service.List(c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, gin.H{"items": tasks, "total": total}, "ok")
}

// Cancel 取消下载任务
func (h *DownloadHandler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Param("id")); err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, nil, "取消请求已发出")
}
