package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"autoclip/app/config"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/task"
)

// fakeHandler 测试用阶段处理器
type fakeHandler struct {
	phase task.Phase
	run   func(ctx context.Context, in *PipelineInput, report ProgressFunc) error
}

func (h *fakeHandler) Phase() task.Phase { return h.phase }

func (h *fakeHandler) Run(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
	if h.run != nil {
		return h.run(ctx, in, report)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Workers:      2,
			PhaseTimeout: 1,
			OutputDir:    "data/output",
		},
	}
}

func testLogger() *logger.Logger {
	return logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})
}

// passthroughHandlers 返回全部直接成功的处理器，指定阶段可替换
func passthroughHandlers(overrides map[task.Phase]*fakeHandler) []PhaseHandler {
	handlers := make([]PhaseHandler, 0, len(task.Phases))
	for _, p := range task.Phases {
		if h, ok := overrides[p]; ok {
			handlers = append(handlers, h)
			continue
		}
		handlers = append(handlers, &fakeHandler{phase: p})
	}
	return handlers
}

// waitForTerminal 轮询注册表直到任务进入终态
func waitForTerminal(t *testing.T, r *task.Registry, taskID string) task.State {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := r.Get(taskID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if st.Status.IsTerminal() {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	st, _ := r.Get(taskID)
	t.Fatalf("任务未在期限内进入终态: %+v", st)
	return task.State{}
}

func TestPipelineHandlerOrderValidated(t *testing.T) {
	r := task.NewRegistry(nil, nil)

	// 数量不足
	if _, err := NewPipelineService(testConfig(), testLogger(), r, []PhaseHandler{
		&fakeHandler{phase: task.PhaseTranscribe},
	}); err == nil {
		t.Error("处理器数量不足时未报错")
	}

	// 顺序错误
	wrong := passthroughHandlers(nil)
	wrong[0], wrong[1] = wrong[1], wrong[0]
	if _, err := NewPipelineService(testConfig(), testLogger(), r, wrong); err == nil {
		t.Error("处理器顺序错误时未报错")
	}
}

func TestPipelineHappyPath(t *testing.T) {
	r := task.NewRegistry(nil, nil)

	transcribe := &fakeHandler{
		phase: task.PhaseTranscribe,
		run: func(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
			for step := 1; step <= 4; step++ {
				report(step, 4, fmt.Sprintf("转写 %d/4", step))
			}
			return nil
		},
	}

	s, err := NewPipelineService(testConfig(), testLogger(), r,
		passthroughHandlers(map[task.Phase]*fakeHandler{task.PhaseTranscribe: transcribe}))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()

	st, err := s.Submit(&model.Project{ID: "p1", VideoPath: "video.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if st.Status != task.StatusPending {
		t.Errorf("Submit 返回状态 = %s, want PENDING", st.Status)
	}
	if st.Meta["project_id"] != "p1" {
		t.Errorf("Submit 未记录项目ID: %v", st.Meta)
	}

	final := waitForTerminal(t, r, st.TaskID)
	if final.Status != task.StatusDone {
		t.Fatalf("终态 = %s (error=%s), want DONE", final.Status, final.Error)
	}
	if final.Progress != 100 {
		t.Errorf("完成时进度 = %d, want 100", final.Progress)
	}
	if final.Phase != task.PhaseUpload {
		t.Errorf("完成时阶段 = %s, want %s", final.Phase, task.PhaseUpload)
	}
	if final.Seq == 0 {
		t.Error("终态 seq 仍为 0")
	}
}

func TestPipelineFailFast(t *testing.T) {
	r := task.NewRegistry(nil, nil)

	reachedClip := false
	analyze := &fakeHandler{
		phase: task.PhaseAnalyze,
		run: func(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
			return errors.New("模型输出不可解析")
		},
	}
	clip := &fakeHandler{
		phase: task.PhaseClip,
		run: func(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
			reachedClip = true
			return nil
		},
	}

	s, err := NewPipelineService(testConfig(), testLogger(), r,
		passthroughHandlers(map[task.Phase]*fakeHandler{
			task.PhaseAnalyze: analyze,
			task.PhaseClip:    clip,
		}))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()

	st, err := s.Submit(&model.Project{ID: "p1", VideoPath: "video.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final := waitForTerminal(t, r, st.TaskID)
	if final.Status != task.StatusFail {
		t.Fatalf("终态 = %s, want FAIL", final.Status)
	}
	if !strings.Contains(final.Error, "模型输出不可解析") {
		t.Errorf("错误信息丢失: %s", final.Error)
	}
	if reachedClip {
		t.Error("失败后仍然执行了后续阶段")
	}
}

func TestPipelineCancel(t *testing.T) {
	r := task.NewRegistry(nil, nil)

	started := make(chan struct{})
	transcribe := &fakeHandler{
		phase: task.PhaseTranscribe,
		run: func(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	s, err := NewPipelineService(testConfig(), testLogger(), r,
		passthroughHandlers(map[task.Phase]*fakeHandler{task.PhaseTranscribe: transcribe}))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()

	st, err := s.Submit(&model.Project{ID: "p1", VideoPath: "video.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	if err := s.Cancel(st.TaskID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	final := waitForTerminal(t, r, st.TaskID)
	if final.Status != task.StatusFail {
		t.Fatalf("取消后终态 = %s, want FAIL", final.Status)
	}
	if !strings.Contains(final.Error, task.ErrCancelled.Error()) {
		t.Errorf("取消原因丢失: %s", final.Error)
	}

	// 终态任务不可再取消
	if err := s.Cancel(st.TaskID); !errors.Is(err, task.ErrInvalidTransition) {
		t.Errorf("取消终态任务 = %v, want ErrInvalidTransition", err)
	}
}

func TestPipelineCancelQueuedTask(t *testing.T) {
	r := task.NewRegistry(nil, nil)

	// 单工作者，第一个任务占满槽位，第二个任务在 PENDING 排队
	cfg := testConfig()
	cfg.Pipeline.Workers = 1

	release := make(chan struct{})
	started := make(chan struct{})
	transcribe := &fakeHandler{
		phase: task.PhaseTranscribe,
		run: func(ctx context.Context, in *PipelineInput, report ProgressFunc) error {
			close(started)
			<-release
			return nil
		},
	}

	s, err := NewPipelineService(cfg, testLogger(), r,
		passthroughHandlers(map[task.Phase]*fakeHandler{task.PhaseTranscribe: transcribe}))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()
	defer close(release)

	first, err := s.Submit(&model.Project{ID: "p1", VideoPath: "a.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started

	queued, err := s.Submit(&model.Project{ID: "p2", VideoPath: "b.mp4"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if st, _ := r.Get(queued.TaskID); st.Status != task.StatusPending {
		t.Fatalf("排队任务状态 = %s, want PENDING", st.Status)
	}

	// 排队中的任务同样可以取消
	if err := s.Cancel(queued.TaskID); err != nil {
		t.Fatalf("取消排队任务失败: %v", err)
	}

	final := waitForTerminal(t, r, queued.TaskID)
	if final.Status != task.StatusFail {
		t.Fatalf("取消后终态 = %s, want FAIL", final.Status)
	}
	if !strings.Contains(final.Error, task.ErrCancelled.Error()) {
		t.Errorf("取消原因丢失: %s", final.Error)
	}

	// 占用槽位的任务不受影响
	if st, _ := r.Get(first.TaskID); st.Status.IsTerminal() {
		t.Errorf("在跑任务被误伤: %+v", st)
	}
}

func TestPipelineCancelUnknownTask(t *testing.T) {
	r := task.NewRegistry(nil, nil)
	s, err := NewPipelineService(testConfig(), testLogger(), r, passthroughHandlers(nil))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()

	if err := s.Cancel("missing"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("Cancel(missing) = %v, want ErrTaskNotFound", err)
	}
}

func TestPipelineSubmitRequiresVideo(t *testing.T) {
	r := task.NewRegistry(nil, nil)
	s, err := NewPipelineService(testConfig(), testLogger(), r, passthroughHandlers(nil))
	if err != nil {
		t.Fatalf("NewPipelineService failed: %v", err)
	}
	defer s.Stop()

	if _, err := s.Submit(&model.Project{ID: "p1"}); err == nil {
		t.Error("缺少视频文件的项目被接受")
	}
}
