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

// UploadService 平台上传队列服务
// 上传记录持久化在数据库，运行时状态镜像到任务注册表用于推送和对账
type UploadService struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *gorm.DB
	registry  *task.Registry
	publisher *mediaclient.Publisher
	workers   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	cancels   sync.Map // 记录ID -> context.CancelFunc
	isRunning bool
	mu        sync.Mutex
}

// NewUploadService 创建上传服务
func NewUploadService(cfg *config.Config, log *logger.Logger, registry *task.Registry, publisher *mediaclient.Publisher) *UploadService {
	concurrency := cfg.Upload.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &UploadService{
		cfg:       cfg,
		log:       log,
		db:        database.GetDB(),
		registry:  registry,
		publisher: publisher,
		workers:   make(chan struct{}, concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动队列处理器
func (s *UploadService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return
	}
	s.isRunning = true

	// 启动时把中断的上传恢复为等待状态
	s.db.Model(&model.UploadRecord{}).
		Where("status = ?", model.UploadStatusProcessing).
		Update("status", model.UploadStatusPending)

	// 等待中的记录重新登记到注册表，重启后推送和对账才有落点
	var pending []model.UploadRecord
	if err := s.db.Where("status = ?", model.UploadStatusPending).Find(&pending).Error; err != nil {
		s.log.Errorf("加载待上传记录失败: %v", err)
	}
	for _, r := range pending {
		s.registry.Register(r.ID, task.KindUpload, map[string]any{
			"clip_id":    r.ClipID,
			"account_id": r.AccountID,
		})
	}

	s.wg.Add(1)
	go s.processQueue()
	s.log.Infof("上传服务已启动，最大并发数: %d", cap(s.workers))
}

// Stop 停止队列处理器，等待在途上传退出
func (s *UploadService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	s.cancel()
	s.wg.Wait()
	s.log.Info("上传服务已停止")
}

// Submit 提交上传任务
func (s *UploadService) Submit(accountID uint, clipID, title string, partitionID int, tags string) (*model.UploadRecord, error) {
	var account model.PlatformAccount
	if err := s.db.First(&account, accountID).Error; err != nil {
		return nil, fmt.Errorf("投稿账号不存在: %d", accountID)
	}
	if !account.IsAvailable() {
		return nil, fmt.Errorf("投稿账号不可用: %s", account.Status)
	}

	var clip model.Clip
	if err := s.db.First(&clip, "id = ?", clipID).Error; err != nil {
		return nil, fmt.Errorf("切片不存在: %s", clipID)
	}
	if clip.FilePath == "" {
		return nil, fmt.Errorf("切片尚未生成文件: %s", clipID)
	}

	if title == "" {
		title = clip.Title
	}

	r := &model.UploadRecord{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		ClipID:      clipID,
		Title:       title,
		PartitionID: partitionID,
		Tags:        tags,
		Status:      model.UploadStatusPending,
		FileSize:    clip.FileSize,
	}
	if err := s.db.Create(r).Error; err != nil {
		s.log.Errorf("创建上传记录失败: %v", err)
		return nil, err
	}

	s.registry.Register(r.ID, task.KindUpload, map[string]any{
		"clip_id":    clipID,
		"account_id": accountID,
	})

	s.log.Infof("上传任务已提交: ID=%s, ClipID=%s, Title=%s", r.ID, clipID, title)
	return r, nil
}

// Get 查询上传记录，轮询接口的权威读路径
func (s *UploadService) Get(id string) (*model.UploadRecord, error) {
	var r model.UploadRecord
	if err := s.db.First(&r, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, task.ErrTaskNotFound
		}
		return nil, err
	}
	return &r, nil
}

// List 按状态分页查询上传记录
func (s *UploadService) List(status string, limit, offset int) ([]model.UploadRecord, int64, error) {
	var records []model.UploadRecord
	var total int64

	query := s.db.Model(&model.UploadRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Retry 重试失败的上传
// 仅 failed 状态可重试；记录回到 pending，错误信息清空，ID 不变
func (s *UploadService) Retry(id string) (*model.UploadRecord, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !r.CanRetry() {
		return nil, task.ErrInvalidTransition
	}

	r.ResetForRetry()
	if err := s.db.Save(r).Error; err != nil {
		return nil, err
	}

	// 终态镜像删除后重新登记，seq 上下文随重试重置
	if err := s.registry.Delete(id); err != nil && err != task.ErrTaskNotFound {
		s.log.Warnf("删除旧任务镜像失败: ID=%s, 错误: %v", id, err)
	}
	s.registry.Register(id, task.KindUpload, map[string]any{
		"clip_id":    r.ClipID,
		"account_id": r.AccountID,
		"retry":      true,
	})

	s.log.Infof("上传任务已重试: ID=%s", id)
	return r, nil
}

// Cancel 取消上传
// 仅等待中或上传中的记录可取消；上传中的记录会中断底层传输
func (s *UploadService) Cancel(id string) (*model.UploadRecord, error) {
	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !r.CanCancel() {
		return nil, task.ErrInvalidTransition
	}

	for attempt := 0; attempt < 2; attempt++ {
		// 上传中：中断传输，由工作者落取消终态
		// 取消函数在记录置为上传中之前登记，看到上传中就一定能取到
		if cancel, ok := s.cancels.Load(id); ok {
			cancel.(context.CancelFunc)()
			s.log.Infof("已发出上传取消请求: ID=%s", id)
			return r, nil
		}

		// 等待中：条件更新落取消终态，只命中仍在等待的行
		res := s.db.Model(&model.UploadRecord{}).
			Where("id = ? AND status = ?", id, model.UploadStatusPending).
			Updates(map[string]any{
				"status":        model.UploadStatusCancelled,
				"error_message": "用户取消上传",
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			r.SetCancelled()
			s.mirrorCancelled(r.ID)
			s.log.Infof("等待中的上传任务已取消: ID=%s", id)
			return r, nil
		}
		// 行刚被工作者领走，重走上传中分支
	}
	return nil, task.ErrInvalidTransition
}

// Delete 删除上传记录，仅终态记录可删除
func (s *UploadService) Delete(id string) error {
	r, err := s.Get(id)
	if err != nil {
		return err
	}
	if !r.IsTerminal() {
		return task.ErrInvalidTransition
	}

	if err := s.db.Delete(&model.UploadRecord{}, "id = ?", id).Error; err != nil {
		return err
	}
	if err := s.registry.Delete(id); err != nil && err != task.ErrTaskNotFound {
		s.log.Warnf("删除任务镜像失败: ID=%s, 错误: %v", id, err)
	}

	s.log.Infof("上传记录已删除: ID=%s", id)
	return nil
}

// processQueue 队列处理器，定期领取等待中的上传
func (s *UploadService) processQueue() {
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

// dispatchPending 把等待中的上传分发给空闲工作者
func (s *UploadService) dispatchPending() {
	var records []model.UploadRecord
	if err := s.db.Preload("Account").
		Where("status = ?", model.UploadStatusPending).
		Order("created_at ASC").
		Limit(cap(s.workers)).
		Find(&records).Error; err != nil {
		s.log.Errorf("获取待上传记录失败: %v", err)
		return
	}

	for _, r := range records {
		select {
		case s.workers <- struct{}{}:
			// 取消函数先于状态落库登记，取消方看到上传中时一定能取到
			ctx, cancel := context.WithCancel(s.ctx)
			s.cancels.Store(r.ID, cancel)

			// 条件更新防止和取消方写到同一行
			res := s.db.Model(&model.UploadRecord{}).
				Where("id = ? AND status = ?", r.ID, model.UploadStatusPending).
				Update("status", model.UploadStatusProcessing)
			if res.Error != nil || res.RowsAffected == 0 {
				if res.Error != nil {
					s.log.Errorf("更新上传状态失败: %v", res.Error)
				}
				s.cancels.Delete(r.ID)
				cancel()
				<-s.workers
				continue
			}
			r.Status = model.UploadStatusProcessing
			s.wg.Add(1)
			go s.execute(ctx, r)
		default:
			return
		}
	}
}

// execute 执行单个上传，ctx 由分发方创建并登记了取消函数
func (s *UploadService) execute(ctx context.Context, r model.UploadRecord) {
	defer func() {
		if cancel, ok := s.cancels.LoadAndDelete(r.ID); ok {
			cancel.(context.CancelFunc)()
		}
		<-s.workers
		s.wg.Done()
	}()

	s.log.Infof("开始上传: ID=%s, ClipID=%s", r.ID, r.ClipID)
	s.mirror(r.ID, func(d *task.Delta) {
		st := task.StatusProgress
		d.Status = &st
		d.Message = "开始上传"
	})

	var clip model.Clip
	if err := s.db.First(&clip, "id = ?", r.ClipID).Error; err != nil {
		s.fail(&r, fmt.Errorf("切片不存在: %w", err))
		return
	}
	if r.Account == nil {
		s.fail(&r, fmt.Errorf("投稿账号缺失"))
		return
	}

	result, err := s.publisher.Publish(ctx, clip.FilePath, mediaclient.PublishMeta{
		Title:       r.Title,
		PartitionID: r.PartitionID,
		Tags:        r.Tags,
		Cookie:      r.Account.Cookie,
	}, func(pct int) {
		if pct > r.Progress {
			r.Progress = pct
			s.db.Model(&model.UploadRecord{}).Where("id = ?", r.ID).Update("progress", pct)
			s.mirror(r.ID, func(d *task.Delta) {
				d.Progress = &pct
				d.Message = fmt.Sprintf("上传中 %d%%", pct)
			})
		}
	})
	if err != nil {
		// 取消与失败走不同的终态
		if ctx.Err() != nil {
			r.SetCancelled()
			if derr := s.db.Save(&r).Error; derr != nil {
				s.log.Errorf("保存取消状态失败: ID=%s, 错误: %v", r.ID, derr)
			}
			s.mirrorCancelled(r.ID)
			s.log.Infof("上传已取消: ID=%s", r.ID)
			return
		}
		s.fail(&r, err)
		return
	}

	r.SetSuccess(result.BvID, result.AvID)
	if err := s.db.Save(&r).Error; err != nil {
		s.log.Errorf("保存上传成功状态失败: ID=%s, 错误: %v", r.ID, err)
	}
	s.mirror(r.ID, func(d *task.Delta) {
		st := task.StatusDone
		full := 100
		d.Status = &st
		d.Progress = &full
		d.Message = "投稿成功"
		d.Meta = map[string]any{"bv_id": result.BvID, "av_id": result.AvID}
	})

	s.log.Infof("投稿成功: ID=%s, BvID=%s", r.ID, result.BvID)
}

// fail 把上传记录落为失败
func (s *UploadService) fail(r *model.UploadRecord, cause error) {
	r.SetFailed(cause)
	if err := s.db.Save(r).Error; err != nil {
		s.log.Errorf("保存上传失败状态失败: ID=%s, 错误: %v", r.ID, err)
	}
	s.mirror(r.ID, func(d *task.Delta) {
		st := task.StatusFail
		d.Status = &st
		d.Error = cause.Error()
		d.Message = "上传失败"
	})
	s.log.Warnf("上传任务失败: ID=%s, 原因: %v", r.ID, cause)
}

// mirrorCancelled 镜像取消终态，统一映射为 FAIL
func (s *UploadService) mirrorCancelled(id string) {
	s.mirror(id, func(d *task.Delta) {
		st := task.StatusFail
		d.Status = &st
		d.Error = task.ErrCancelled.Error()
		d.Message = "上传已取消"
		d.Meta = map[string]any{"record_status": model.UploadStatusCancelled}
	})
}

// mirror 把记录变更镜像到注册表，注册表负责广播
func (s *UploadService) mirror(id string, build func(*task.Delta)) {
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
