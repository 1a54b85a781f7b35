package server

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/filewatcher"
	"autoclip/app/handler"
	"autoclip/app/logger"
	"autoclip/app/middleware"
	"autoclip/app/model"
	"autoclip/app/service"
	"autoclip/app/task"
	"autoclip/app/utils/llmclient"
	"autoclip/app/utils/mediaclient"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server

	registry        *task.Registry
	broadcaster     *task.Broadcaster
	pipelineService *service.PipelineService
	downloadService *service.DownloadService
	uploadService   *service.UploadService
	cleanupService  *service.CleanupService
	watcher         *filewatcher.Watcher
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	router := gin.Default()

	broadcaster := task.NewBroadcaster()
	registry := task.NewRegistry(task.SystemClock{}, broadcaster)

	llm := llmclient.New(cfg.LLM)
	media := mediaclient.New(cfg.Download.InfoCacheTTLDuration())
	publisher := mediaclient.NewPublisher(cfg.Upload.BaseURL)

	pipelineService, err := service.NewPipelineService(cfg, log, registry,
		service.DefaultPhaseHandlers(cfg, log, llm, publisher))
	if err != nil {
		return nil, err
	}

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:          cfg,
		Logger:          log,
		registry:        registry,
		broadcaster:     broadcaster,
		pipelineService: pipelineService,
		downloadService: service.NewDownloadService(cfg, log, registry, media),
		uploadService:   service.NewUploadService(cfg, log, registry, publisher),
		cleanupService:  service.NewCleanupService(cfg, log, registry),
	}

	// 收件目录监控：文件写入完成后自动建项目并提交处理
	watcher, err := filewatcher.New(&cfg.Watcher, log, s.onInboxFile)
	if err != nil {
		return nil, err
	}
	s.watcher = watcher

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动后台服务
	s.downloadService.Start()
	s.uploadService.Start()
	if err := s.cleanupService.Start(); err != nil {
		return err
	}
	s.watcher.Start()

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// 停止后台服务
	s.watcher.Stop()
	s.cleanupService.Stop()
	s.uploadService.Stop()
	s.downloadService.Stop()
	s.pipelineService.Stop()

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// onInboxFile 收件目录里的视频写入完成后建项目并提交处理
func (s *Server) onInboxFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	project := &model.Project{
		ID:        uuid.NewString(),
		Name:      name,
		VideoPath: path,
		Source:    "local",
	}
	if err := database.GetDB().Create(project).Error; err != nil {
		s.Logger.Errorf("收件视频建项目失败: %s, %v", path, err)
		return
	}

	state, err := s.pipelineService.Submit(project)
	if err != nil {
		s.Logger.Errorf("收件视频提交处理失败: %s, %v", path, err)
		return
	}
	s.Logger.Infof("收件视频已提交处理: project=%s, task=%s", project.ID, state.TaskID)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	authHandler := handler.NewAuthHandler(s.Logger, s.Config)
	taskHandler := handler.NewTaskHandler(s.Logger, s.registry, s.broadcaster, s.pipelineService)
	downloadHandler := handler.NewDownloadHandler(s.Logger, s.downloadService)
	uploadHandler := handler.NewUploadHandler(s.Logger, s.uploadService)
	collectionService := service.NewCollectionService(s.Config, s.Logger)
	projectHandler := handler.NewProjectHandler(s.Logger, s.Config, collectionService)
	accountHandler := handler.NewAccountHandler(s.Logger)
	categoryHandler := handler.NewCategoryHandler()

	// API路由组
	api := s.gin.Group("/api")

	// 认证相关路由（不需要JWT验证）
	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.RefreshToken)
	}

	// 需要JWT验证的路由
	protected := api.Group("/")
	protected.Use(middleware.JWTAuth(s.Config))
	{
		// 用户相关
		protected.GET("/me", authHandler.Me)

		// 视频分类（随 Accept-Language 本地化）
		protected.GET("/video-categories", categoryHandler.List)

		// 处理任务相关路由
		tasks := protected.Group("/tasks")
		{
			tasks.GET("/", taskHandler.ListTasks)
			tasks.GET("/:id", taskHandler.GetTask)
			tasks.GET("/:id/events", taskHandler.StreamTask)
			tasks.POST("/:id/cancel", taskHandler.CancelTask)
			tasks.DELETE("/:id", taskHandler.DeleteTask)
		}

		// 项目相关路由
		projects := protected.Group("/projects")
		{
			projects.GET("/", projectHandler.ListProjects)
			projects.POST("/upload", projectHandler.UploadVideo)
			projects.GET("/:id", projectHandler.GetProject)
			projects.DELETE("/:id", projectHandler.DeleteProject)
			projects.POST("/:id/process", taskHandler.ProcessProject)
		}

		// 平台下载相关路由
		downloads := protected.Group("/downloads")
		{
			downloads.POST("/", downloadHandler.Submit)
			downloads.GET("/", downloadHandler.List)
			downloads.GET("/:id", downloadHandler.Status)
			downloads.POST("/:id/cancel", downloadHandler.Cancel)
		}

		// 投稿相关路由
		uploads := protected.Group("/uploads")
		{
			uploads.POST("/", uploadHandler.Submit)
			uploads.GET("/", uploadHandler.List)
			uploads.GET("/:id", uploadHandler.Get)
			uploads.POST("/:id/retry", uploadHandler.Retry)
			uploads.POST("/:id/cancel", uploadHandler.Cancel)
			uploads.DELETE("/:id", uploadHandler.Delete)
		}

		// 合集相关路由
		collections := protected.Group("/collections")
		{
			collections.POST("/", projectHandler.CreateCollection)
			collections.GET("/", projectHandler.ListCollections)
			collections.PUT("/:id", projectHandler.UpdateCollection)
			collections.DELETE("/:id", projectHandler.DeleteCollection)
			collections.POST("/:id/cover", projectHandler.GenerateCollectionCover)
		}

		// 投稿账号相关路由
		accounts := protected.Group("/accounts")
		{
			accounts.POST("/", accountHandler.Create)
			accounts.GET("/", accountHandler.List)
			accounts.DELETE("/:id", accountHandler.Delete)
		}
	}
}
