package service

import (
	"time"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/task"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// CleanupService 终态任务定期清理服务
// 按 cron 表达式清理数据库里过期的终态下载/上传记录和注册表里的终态任务
type CleanupService struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *gorm.DB
	registry *task.Registry
	cron     *cron.Cron
}

// NewCleanupService 创建清理服务
func NewCleanupService(cfg *config.Config, log *logger.Logger, registry *task.Registry) *CleanupService {
	return &CleanupService{
		cfg:      cfg,
		log:      log,
		db:       database.GetDB(),
		registry: registry,
		cron:     cron.New(),
	}
}

// Start 注册定时任务并启动调度器
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Cleanup.Schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Infof("清理服务已启动，调度: %s, 保留天数: %d", s.cfg.Cleanup.Schedule, s.cfg.Cleanup.RetentionDays)
	return nil
}

// Stop 停止调度器，等待在途清理完成
func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("清理服务已停止")
}

// RunNow 手动触发一次清理
func (s *CleanupService) RunNow() {
	s.log.Info("手动触发任务清理")
	s.runOnce()
}

// runOnce 清理一轮
func (s *CleanupService) runOnce() {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Cleanup.RetentionDays)

	// 过期的终态下载任务
	result := s.db.Where("status IN (?) AND updated_at < ?",
		[]string{model.DownloadStatusCompleted, model.DownloadStatusFailed}, cutoff).
		Delete(&model.DownloadTask{})
	if result.Error != nil {
		s.log.Errorf("清理下载任务失败: %v", result.Error)
	} else if result.RowsAffected > 0 {
		s.log.Infof("清理了 %d 个终态下载任务", result.RowsAffected)
	}

	// 过期的终态上传记录
	result = s.db.Where("status IN (?) AND updated_at < ?",
		[]string{model.UploadStatusSuccess, model.UploadStatusFailed, model.UploadStatusCancelled}, cutoff).
		Delete(&model.UploadRecord{})
	if result.Error != nil {
		s.log.Errorf("清理上传记录失败: %v", result.Error)
	} else if result.RowsAffected > 0 {
		s.log.Infof("清理了 %d 个终态上传记录", result.RowsAffected)
	}

	// 注册表里的终态任务
	if pruned := s.registry.PruneTerminal(cutoff.Unix()); pruned > 0 {
		s.log.Infof("清理了 %d 个注册表终态任务", pruned)
	}
}
