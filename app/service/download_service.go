package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/task"
	"autoclip/app/utils/mediaclient"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DownloadService 平台下载队列服务
// 下载记录持久化在数据库，运行时状态镜像到任务注册表用于推送和对账
type DownloadService struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *gorm.DB
	registry  *task.Registry
	client    *mediaclient.Client
	workers   chan struct{} // 并发控制信号量
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	cancels   sync.Map // 任务ID -> context.CancelFunc
	isRunning bool
	mu        sync.Mutex
}

// NewDownloadService 创建下载服务
func NewDownloadService(cfg *config.Config, log *logger.Logger, registry *task.Registry, client *mediaclient.Client) *DownloadService {
	concurrency := cfg.Download.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DownloadService{
		cfg:      cfg,
		log:      log,
		db:       database.GetDB(),
		registry: registry,
		client:   client,
		workers:  make(chan struct{}, concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start 启动队列处理器
func (s *DownloadService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return
	}
	s.isRunning = true

	// 启动时把中断的下载恢复为等待状态
	s.db.Model(&model.DownloadTask{}).
		Where("status = ?", model.DownloadStatusProcessing).
		Update("status", model.DownloadStatusPending)

	// 等待中的记录重新登记到注册表，重启后推送和对账才有落点
	var pending []model.DownloadTask
	if err := s.db.Where("status = ?", model.DownloadStatusPending).Find(&pending).Error; err != nil {
		s.log.Errorf("加载待下载任务失败: %v", err)
	}
	for _, t := range pending {
		s.registry.Register(t.ID, task.KindDownload, map[string]any{
			"url":      t.URL,
			"platform": t.Platform,
		})
	}

	s.wg.Add(1)
	go s.processQueue()
	s.log.Infof("下载服务已启动，最大并发数: %d", cap(s.workers))
}

// Stop 停止队列处理器，等待在途下载退出
func (s *DownloadService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.cancel()
	s.wg.Wait()
	s.log.Info("下载服务已停止")
}

// Submit 提交下载任务
// URL 形状校验失败直接拒绝，不创建任务
// immediate_project 开启时提交即创建项目，否则项目在下载成功后创建
func (s *DownloadService) Submit(url, category, projectName string) (*model.DownloadTask, error) {
	platform := mediaclient.DetectPlatform(url)
	if platform == "" {
		return nil, fmt.Errorf("%w: %s", task.ErrUnsupportedSource, url)
	}

	// 同一URL的未完成任务不重复创建
	var existing model.DownloadTask
	if err := s.db.Where("url = ? AND status IN (?)", url,
		[]string{model.DownloadStatusPending, model.DownloadStatusProcessing}).
		First(&existing).Error; err == nil {
		s.log.Warnf("下载任务已存在: URL=%s, ID=%s", url, existing.ID)
		return &existing, nil
	}

	t := &model.DownloadTask{
		ID:       uuid.NewString(),
		URL:      url,
		Platform: platform,
		Category: category,
		Status:   model.DownloadStatusPending,
	}
	if category == "" {
		t.Category = "default"
	}

	// 立即创建项目的变体：提交时就返回 project_id
	if s.cfg.Download.ImmediateProject {
		project := &model.Project{
			ID:        uuid.NewString(),
			Name:      projectName,
			Category:  t.Category,
			Source:    platform,
			SourceURL: url,
		}
		if project.Name == "" {
			project.Name = url
		}
		if err := s.db.Create(project).Error; err != nil {
			return nil, fmt.Errorf("创建项目失败: %w", err)
		}
		t.ProjectID = project.ID
	}

	if err := s.db.Create(t).Error; err != nil {
		s.log.Errorf("创建下载任务失败: %v", err)
		return nil, err
	}

	s.registry.Register(t.ID, task.KindDownload, map[string]any{
		"url":      url,
		"platform": platform,
	})

	s.log.Infof("下载任务已提交: ID=%s, Platform=%s, URL=%s", t.ID, platform, url)
	return t, nil
}

// Status 查询下载任务，轮询接口的权威读路径
func (s *DownloadService) Status(id string) (*model.DownloadTask, error) {
	var t model.DownloadTask
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, task.ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List 按状态分页查询下载任务
func (s *DownloadService) List(status string, limit, offset int) ([]model.DownloadTask, int64, error) {
	var tasks []model.DownloadTask
	var total int64

	query := s.db.Model(&model.DownloadTask{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// Cancel 取消下载，仅等待中或下载中的任务可取消
// 取消后任务落为 failed，错误信息标记为取消
func (s *DownloadService) Cancel(id string) error {
	var t model.DownloadTask
	if err := s.db.First(&t, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return task.ErrTaskNotFound
		}
		return err
	}
	if !t.CanCancel() {
		return task.ErrInvalidTransition
	}

	for attempt := 0; attempt < 2; attempt++ {
		// 下载中：取消底层拉取，由工作者收尾
		// 取消函数在记录置为下载中之前登记，看到下载中就一定能取到
		if cancel, ok := s.cancels.Load(id); ok {
			cancel.(context.CancelFunc)()
			s.log.Infof("已发出下载取消请求: ID=%s", id)
			return nil
		}

		// 等待中：条件更新落为失败，只命中仍在等待的行
		res := s.db.Model(&model.DownloadTask{}).
			Where("id = ? AND status = ?", id, model.DownloadStatusPending).
			Updates(map[string]any{
				"status":        model.DownloadStatusFailed,
				"error_message": task.ErrCancelled.Error(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			s.mirrorFail(id, task.ErrCancelled.Error(), "下载已取消")
			s.log.Infof("等待中的下载任务已取消: ID=%s", id)
			return nil
		}
		// 行刚被工作者领走，重走下载中分支
	}
	return task.ErrInvalidTransition
}

// processQueue 队列处理器，定期领取等待中的任务
func (s *DownloadService) processQueue() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.dispatchPending()
		}
	}
}

// dispatchPending 把等待中的任务分发给空闲工作者
func (s *DownloadService) dispatchPending() {
	var tasks []model.DownloadTask
	if err := s.db.Where("status = ?", model.DownloadStatusPending).
		Order("created_at ASC").
		Limit(cap(s.workers)).
		Find(&tasks).Error; err != nil {
		s.log.Errorf("获取待下载任务失败: %v", err)
		return
	}

	for _, t := range tasks {
		select {
		case s.workers <- struct{}{}:
			// 取消函数先于状态落库登记，取消方看到下载中时一定能取到
			ctx, cancel := context.WithCancel(s.ctx)
			s.cancels.Store(t.ID, cancel)

			// 领取成功后立刻置为下载中，避免重复分发；
			// 条件更新防止和取消方写到同一行
			res := s.db.Model(&model.DownloadTask{}).
				Where("id = ? AND status = ?", t.ID, model.DownloadStatusPending).
				Update("status", model.DownloadStatusProcessing)
			if res.Error != nil || res.RowsAffected == 0 {
				if res.Error != nil {
					s.log.Errorf("更新任务状态失败: %v", res.Error)
				}
				s.cancels.Delete(t.ID)
				cancel()
				<-s.workers
				continue
			}
			t.SetProcessing()
			s.wg.Add(1)
			go s.execute(ctx, t)
		default:
			// 没有空闲工作者
			return
		}
	}
}

// execute 执行单个下载任务，ctx 由分发方创建并登记了取消函数
func (s *DownloadService) execute(ctx context.Context, t model.DownloadTask) {
	defer func() {
		if cancel, ok := s.cancels.LoadAndDelete(t.ID); ok {
			cancel.(context.CancelFunc)()
		}
		<-s.workers
		s.wg.Done()
	}()

	s.log.Infof("开始下载: ID=%s, URL=%s", t.ID, t.URL)
	s.mirror(t.ID, func(d *task.Delta) {
		st := task.StatusProgress
		d.Status = &st
		d.Message = "开始下载"
	})

	// 解析视频信息
	info, err := s.client.ParseInfo(ctx, t.URL)
	if err != nil {
		if ctx.Err() != nil {
			err = task.ErrCancelled
		}
		s.fail(&t, err)
		return
	}
	t.Title = info.Title
	t.Uploader = info.Uploader
	t.Duration = info.Duration
	if err := s.db.Save(&t).Error; err != nil {
		s.log.Errorf("保存视频信息失败: ID=%s, 错误: %v", t.ID, err)
	}
	s.mirror(t.ID, func(d *task.Delta) {
		d.Message = "视频信息已解析"
		d.Meta = map[string]any{
			"title":    info.Title,
			"uploader": info.Uploader,
			"duration": info.Duration,
		}
	})

	// 拉取视频文件，按百分比上报进度
	result, err := s.client.Fetch(ctx, t.URL, s.cfg.Download.SaveDir, func(pct int) {
		if pct > t.Progress {
			t.Progress = pct
			s.db.Model(&model.DownloadTask{}).Where("id = ?", t.ID).Update("progress", pct)
			s.mirror(t.ID, func(d *task.Delta) {
				d.Progress = &pct
				d.Message = fmt.Sprintf("下载中 %d%%", pct)
			})
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			err = task.ErrCancelled
		}
		s.fail(&t, err)
		return
	}

	// 下载成功，关联或创建项目
	projectID := t.ProjectID
	if projectID == "" {
		project := &model.Project{
			ID:        uuid.NewString(),
			Name:      result.Info.Title,
			Category:  t.Category,
			Source:    t.Platform,
			SourceURL: t.URL,
			VideoPath: result.FilePath,
		}
		if err := s.db.Create(project).Error; err != nil {
			s.fail(&t, fmt.Errorf("创建项目失败: %w", err))
			return
		}
		projectID = project.ID
	} else {
		if err := s.db.Model(&model.Project{}).Where("id = ?", projectID).
			Updates(map[string]any{"video_path": result.FilePath, "name": result.Info.Title}).Error; err != nil {
			s.log.Errorf("更新项目视频路径失败: ProjectID=%s, 错误: %v", projectID, err)
		}
	}

	t.SetCompleted(projectID)
	if err := s.db.Save(&t).Error; err != nil {
		s.log.Errorf("保存下载完成状态失败: ID=%s, 错误: %v", t.ID, err)
	}
	s.mirror(t.ID, func(d *task.Delta) {
		st := task.StatusDone
		full := 100
		d.Status = &st
		d.Progress = &full
		d.Message = "下载完成"
		d.Meta = map[string]any{"project_id": projectID}
	})

	s.log.Infof("下载完成: ID=%s, ProjectID=%s, 文件=%s", t.ID, projectID, result.FilePath)
}

// fail 把下载任务落为失败
func (s *DownloadService) fail(t *model.DownloadTask, cause error) {
	t.SetFailed(cause)
	if err := s.db.Save(t).Error; err != nil {
		s.log.Errorf("保存下载失败状态失败: ID=%s, 错误: %v", t.ID, err)
	}
	s.mirrorFail(t.ID, cause.Error(), "下载失败")
	s.log.Warnf("下载任务失败: ID=%s, 原因: %v", t.ID, cause)
}

// mirror 把记录变更镜像到注册表，注册表负责广播
// 单写者场景下 seq 直接取当前值加一，撞上过期变更就重读一次
func (s *DownloadService) mirror(id string, build func(*task.Delta)) {
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.registry.Get(id)
		if err != nil {
			return
		}
		d := task.Delta{Seq: st.Seq + 1}
		build(&d)
		if _, err := s.registry.Update(id, d); err == nil || err != task.ErrStaleUpdate {
			return
		}
	}
}

// mirrorFail 镜像失败终态
func (s *DownloadService) mirrorFail(id, errMsg, message string) {
	s.mirror(id, func(d *task.Delta) {
		st := task.StatusFail
		d.Status = &st
		d.Error = errMsg
		d.Message = message
	})
}
