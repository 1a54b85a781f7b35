package service

import (
	"context"
	"fmt"
	"sync"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/task"
)

// ProgressFunc 阶段处理器的进度上报回调
type ProgressFunc func(step, total int, message string)

// PipelineInput 流水线输入
type PipelineInput struct {
	Project *model.Project
}

// PhaseHandler 外部阶段处理器（转写、分析、切片、转码、投稿）
// 处理器必须尊重 ctx 取消，并通过 report 上报阶段内进度
type PhaseHandler interface {
	Phase() task.Phase
	Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error
}

// PipelineService 处理流水线服务
// 把一个处理任务按阶段顺序推进，所有状态变更经注册表落盘并广播
type PipelineService struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *task.Registry
	handlers []PhaseHandler
	workers  chan struct{} // 并发控制信号量
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cancels  sync.Map // taskID -> context.CancelFunc
}

// NewPipelineService 创建流水线服务
// handlers 的顺序必须与阶段顺序表一致
func NewPipelineService(cfg *config.Config, log *logger.Logger, registry *task.Registry, handlers []PhaseHandler) (*PipelineService, error) {
	if len(handlers) != len(task.Phases) {
		return nil, fmt.Errorf("阶段处理器数量不匹配: 期望 %d 个，实际 %d 个", len(task.Phases), len(handlers))
	}
	for i, h := range handlers {
		if h.Phase() != task.Phases[i] {
			return nil, fmt.Errorf("第 %d 个阶段处理器不匹配: 期望 %s，实际 %s", i, task.Phases[i], h.Phase())
		}
	}

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PipelineService{
		cfg:      cfg,
		log:      log,
		registry: registry,
		handlers: handlers,
		workers:  make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Submit 提交处理任务，立即返回 PENDING 状态，执行在工作者协程上进行
func (s *PipelineService) Submit(project *model.Project) (task.State, error) {
	if project.VideoPath == "" {
		return task.State{}, fmt.Errorf("项目缺少视频文件: %s", project.ID)
	}

	st := s.registry.Create(task.KindProcessing, map[string]any{
		"project_id": project.ID,
	})

	// 记录项目最近一次处理任务
	if db := database.GetDB(); db != nil {
		if err := db.Model(&model.Project{}).Where("id = ?", project.ID).
			Update("task_id", st.TaskID).Error; err != nil {
			s.log.Errorf("更新项目任务ID失败: ProjectID=%s, 错误: %v", project.ID, err)
		}
	}

	// 取消函数在提交时就登记，排队中的任务同样可以取消
	taskCtx, cancel := context.WithCancel(s.ctx)
	s.cancels.Store(st.TaskID, cancel)

	s.wg.Add(1)
	go s.run(taskCtx, st.TaskID, project)

	s.log.Infof("处理任务已提交: TaskID=%s, ProjectID=%s", st.TaskID, project.ID)
	return st, nil
}

// Cancel 请求取消任务，协作式取消，在阶段和步骤边界生效
func (s *PipelineService) Cancel(taskID string) error {
	st, err := s.registry.Get(taskID)
	if err != nil {
		return err
	}
	if st.Status.IsTerminal() {
		return task.ErrInvalidTransition
	}

	// 取消函数在提交时登记，存活任务一定能取到；
	// 取不到说明任务刚刚进入终态
	if cancel, ok := s.cancels.Load(taskID); ok {
		cancel.(context.CancelFunc)()
		s.log.Infof("已发出任务取消请求: TaskID=%s", taskID)
		return nil
	}
	return task.ErrInvalidTransition
}

// Stop 停止服务，取消所有在途任务并等待工作者退出
func (s *PipelineService) Stop() {
	s.cancel()
	s.wg.Wait()
	s.log.Info("处理流水线服务已停止")
}

// run 在工作者协程上驱动任务走完全部阶段
func (s *PipelineService) run(taskCtx context.Context, taskID string, project *model.Project) {
	defer s.wg.Done()
	defer func() {
		if cancel, ok := s.cancels.LoadAndDelete(taskID); ok {
			cancel.(context.CancelFunc)()
		}
	}()

	// 单写者：只有本协程推进该任务，seq 在本地自增
	var seq uint64
	apply := func(d task.Delta) error {
		d.Seq = seq + 1
		if _, err := s.registry.Update(taskID, d); err != nil {
			return err
		}
		seq++
		return nil
	}

	// 占用工作者槽位，超出并发数的任务在 PENDING 状态排队
	select {
	case s.workers <- struct{}{}:
	case <-taskCtx.Done():
		if s.ctx.Err() != nil {
			// 服务停机，排队任务不再推进
			return
		}
		// 排队期间被取消
		s.fail(apply, taskID, s.handlers[0].Phase(), task.ErrCancelled)
		return
	}
	defer func() { <-s.workers }()

	in := &PipelineInput{Project: project}

	// 进入 PROGRESS 状态
	progress := task.StatusProgress
	firstPhase := s.handlers[0].Phase()
	if err := apply(task.Delta{Status: &progress, Phase: &firstPhase, Message: "开始处理"}); err != nil {
		s.log.Errorf("任务启动状态变更失败: TaskID=%s, 错误: %v", taskID, err)
		return
	}

	for i, h := range s.handlers {
		// 阶段边界检查取消
		if taskCtx.Err() != nil {
			s.fail(apply, taskID, h.Phase(), task.ErrCancelled)
			return
		}

		phase := h.Phase()
		zero := 0
		one := 1
		entryProgress := task.OverallProgress(i, 0, 1)
		if err := apply(task.Delta{
			Phase:    &phase,
			Step:     &zero,
			Total:    &one,
			Progress: &entryProgress,
			Message:  fmt.Sprintf("进入阶段: %s", phase),
		}); err != nil {
			s.log.Errorf("阶段进入状态变更失败: TaskID=%s, Phase=%s, 错误: %v", taskID, phase, err)
			return
		}

		report := func(step, total int, message string) {
			// 步骤边界检查取消，处理器在进行中的那一步允许做完
			if taskCtx.Err() != nil {
				return
			}
			overall := task.OverallProgress(i, step, total)
			d := task.Delta{
				Progress: &overall,
				Step:     &step,
				Total:    &total,
				Message:  message,
			}
			if err := apply(d); err != nil {
				s.log.Debugf("进度上报被拒绝: TaskID=%s, Phase=%s, Step=%d/%d, 错误: %v",
					taskID, phase, step, total, err)
			}
		}

		phaseCtx, phaseCancel := context.WithTimeout(taskCtx, s.cfg.Pipeline.PhaseTimeoutDuration())
		err := h.Run(phaseCtx, in, report)
		phaseCancel()

		if err != nil {
			if taskCtx.Err() != nil {
				err = task.ErrCancelled
			}
			s.fail(apply, taskID, phase, task.NewHandlerError(phase, err))
			return
		}

		s.log.Infof("阶段完成: TaskID=%s, Phase=%s (%d/%d)", taskID, phase, i+1, len(s.handlers))
	}

	// 全部阶段完成
	done := task.StatusDone
	full := 100
	if err := apply(task.Delta{Status: &done, Progress: &full, Message: "处理完成"}); err != nil {
		s.log.Errorf("任务完成状态变更失败: TaskID=%s, 错误: %v", taskID, err)
		return
	}
	s.log.Infof("处理任务完成: TaskID=%s", taskID)
}

// fail 把任务置为 FAIL 终态，错误落在任务上，不向外抛
func (s *PipelineService) fail(apply func(task.Delta) error, taskID string, phase task.Phase, cause error) {
	failed := task.StatusFail
	d := task.Delta{
		Status:  &failed,
		Error:   cause.Error(),
		Message: fmt.Sprintf("阶段 %s 失败", phase),
	}
	if err := apply(d); err != nil {
		s.log.Errorf("任务失败状态变更失败: TaskID=%s, 错误: %v", taskID, err)
		return
	}
	s.log.Warnf("处理任务失败: TaskID=%s, Phase=%s, 原因: %v", taskID, phase, cause)
}
