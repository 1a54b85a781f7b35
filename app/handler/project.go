package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProjectHandler 处理项目、切片和合集相关请求
type ProjectHandler struct {
	logger      *logger.Logger
	config      *config.Config
	collections *service.CollectionService
}

// NewProjectHandler 创建项目处理器
func NewProjectHandler(log *logger.Logger, cfg *config.Config, collections *service.CollectionService) *ProjectHandler {
	return &ProjectHandler{
		logger:      log,
		config:      cfg,
		collections: collections,
	}
}

// ListProjects 项目列表
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	var projects []model.Project
	if err := database.GetDB().Order("created_at DESC").Find(&projects).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, projects, "ok")
}

// GetProject 项目详情，带切片列表
func (h *ProjectHandler) GetProject(c *gin.Context) {
	var project model.Project
	if err := database.GetDB().Preload("Clips").First(&project, "id = ?", c.Param("id")).Error; err != nil {
		respondError(c, http.StatusNotFound, 404, "项目不存在")
		return
	}
	respondOK(c, project, "ok")
}

// UploadVideo 本地上传视频，创建项目
func (h *ProjectHandler) UploadVideo(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, 400, "缺少上传文件")
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = file.Filename
	}

	projectID := uuid.NewString()
	savePath := filepath.Join(h.config.Download.SaveDir, projectID+"_"+filepath.Base(file.Filename))
	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		respondError(c, http.StatusInternalServerError, 500, "创建保存目录失败")
		return
	}
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		respondError(c, http.StatusInternalServerError, 500, "保存上传文件失败: "+err.Error())
		return
	}

	project := model.Project{
		ID:        projectID,
		Name:      name,
		Category:  c.DefaultPostForm("category", "default"),
		Source:    "local",
		VideoPath: savePath,
	}
	if err := database.GetDB().Create(&project).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}

	h.logger.Infof("本地视频已上传: ProjectID=%s, 文件=%s", projectID, savePath)
	respondOK(c, project, "项目已创建")
}

// DeleteProject 删除项目
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	if err := database.GetDB().Delete(&model.Project{}, "id = ?", c.Param("id")).Error; err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, nil, "项目已删除")
}

// CollectionRequest 创建/更新合集请求结构
type CollectionRequest struct {
	ProjectID string   `json:"project_id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	ClipIDs   []string `json:"clip_ids"`
}

// CreateCollection 创建合集
func (h *ProjectHandler) CreateCollection(c *gin.Context) {
	var req CollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	collection, err := h.collections.Create(req.ProjectID, req.Title, req.Summary, req.ClipIDs)
	if err != nil {
		respondError(c, http.StatusBadRequest, 400, err.Error())
		return
	}
	respondOK(c, collection, "合集已创建")
}

// ListCollections 合集列表
func (h *ProjectHandler) ListCollections(c *gin.Context) {
	collections, err := h.collections.List(c.Query("project_id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, collections, "ok")
}

// UpdateCollection 更新合集
func (h *ProjectHandler) UpdateCollection(c *gin.Context) {
	var req CollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	collection, err := h.collections.Update(c.Param("id"), req.Title, req.Summary, req.ClipIDs)
	if err != nil {
		respondError(c, http.StatusNotFound, 404, err.Error())
		return
	}
	respondOK(c, collection, "合集已更新")
}

// DeleteCollection 删除合集
func (h *ProjectHandler) DeleteCollection(c *gin.Context) {
	if err := h.collections.Delete(c.Param("id")); err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, nil, "合集已删除")
}

// GenerateCollectionCover 生成合集封面
func (h *ProjectHandler) GenerateCollectionCover(c *gin.Context) {
	collection, err := h.collections.GenerateCover(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, 500, err.Error())
		return
	}
	respondOK(c, collection, "封面已生成")
}
