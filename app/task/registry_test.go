package task

import (
	"errors"
	"testing"
	"time"
)

// fakeClock 固定时间源
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// recordingNotifier 记录所有被接受的变更
type recordingNotifier struct {
	published []State
}

func (n *recordingNotifier) Publish(state State) {
	n.published = append(n.published, state)
}

func statusPtr(s Status) *Status { return &s }
func phasePtr(p Phase) *Phase    { return &p }
func intPtr(i int) *int          { return &i }

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, map[string]any{"project_id": "p1"})

	if st.TaskID == "" {
		t.Fatal("Create 未分配任务ID")
	}
	if st.Status != StatusPending {
		t.Errorf("初始状态 = %s, want %s", st.Status, StatusPending)
	}
	if st.Seq != 0 {
		t.Errorf("初始 seq = %d, want 0", st.Seq)
	}
	if st.Meta["project_id"] != "p1" {
		t.Errorf("Meta 丢失: %v", st.Meta)
	}

	got, err := r.Get(st.TaskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TaskID != st.TaskID {
		t.Errorf("Get 返回了错误的任务: %s", got.TaskID)
	}
}

func TestRegistryGetNotFound(t *testing.T) {
	r := NewRegistry(nil, nil)
	if _, err := r.Get("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get(missing) = %v, want ErrTaskNotFound", err)
	}
}

func TestRegistryUpdateSeqContract(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, nil)

	// seq 跳跃被拒绝
	if _, err := r.Update(st.TaskID, Delta{Seq: 2, Status: statusPtr(StatusProgress)}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("seq 跳跃的变更 = %v, want ErrStaleUpdate", err)
	}
	// seq 重复被拒绝
	if _, err := r.Update(st.TaskID, Delta{Seq: 0, Status: statusPtr(StatusProgress)}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("seq 重复的变更 = %v, want ErrStaleUpdate", err)
	}

	// seq = 当前+1 被接受
	got, err := r.Update(st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress)})
	if err != nil {
		t.Fatalf("合法变更被拒绝: %v", err)
	}
	if got.Seq != 1 {
		t.Errorf("变更后 seq = %d, want 1", got.Seq)
	}
	if got.Status != StatusProgress {
		t.Errorf("变更后状态 = %s, want %s", got.Status, StatusProgress)
	}

	// 同一 seq 不能提交两次
	if _, err := r.Update(st.TaskID, Delta{Seq: 1, Message: "重放"}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("seq 重放的变更 = %v, want ErrStaleUpdate", err)
	}
}

func TestRegistryUpdateInvalidTransition(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, nil)

	// PENDING 不能直接到 DONE
	if _, err := r.Update(st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusDone)}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("PENDING->DONE = %v, want ErrInvalidTransition", err)
	}

	// 被拒绝的变更不消耗 seq
	got, err := r.Get(st.TaskID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Seq != 0 {
		t.Errorf("被拒绝的变更消耗了 seq: %d", got.Seq)
	}
}

func TestRegistryTerminalImmutable(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, nil)

	mustUpdate(t, r, st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress)})
	mustUpdate(t, r, st.TaskID, Delta{Seq: 2, Status: statusPtr(StatusDone), Progress: intPtr(100)})

	// 终态之后任何变更都被拒绝，包括 seq 正确的
	if _, err := r.Update(st.TaskID, Delta{Seq: 3, Message: "迟到的进度"}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("终态后的变更 = %v, want ErrStaleUpdate", err)
	}

	got, _ := r.Get(st.TaskID)
	if got.Status != StatusDone || got.Progress != 100 {
		t.Errorf("终态被篡改: status=%s progress=%d", got.Status, got.Progress)
	}
}

func TestRegistryProgressNeverDecreases(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, nil)

	mustUpdate(t, r, st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress), Progress: intPtr(40)})

	if _, err := r.Update(st.TaskID, Delta{Seq: 2, Progress: intPtr(30)}); !errors.Is(err, ErrStaleUpdate) {
		t.Errorf("进度回退的变更 = %v, want ErrStaleUpdate", err)
	}

	// 相同进度允许（phase 内消息更新）
	if _, err := r.Update(st.TaskID, Delta{Seq: 2, Progress: intPtr(40), Message: "仍在处理"}); err != nil {
		t.Errorf("相同进度的变更被拒绝: %v", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry(nil, nil)
	st := r.Create(KindProcessing, nil)

	// 非终态不可删除
	if err := r.Delete(st.TaskID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("删除非终态任务 = %v, want ErrInvalidTransition", err)
	}

	mustUpdate(t, r, st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusFail), Error: "boom"})

	if err := r.Delete(st.TaskID); err != nil {
		t.Fatalf("删除终态任务失败: %v", err)
	}
	if _, err := r.Get(st.TaskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("删除后仍能读到任务: %v", err)
	}
	if err := r.Delete(st.TaskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("重复删除 = %v, want ErrTaskNotFound", err)
	}
}

// 重试场景：终态删除后用同一ID重新登记，seq 回到 0
func TestRegistryReRegisterResetsSeq(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register("upload-1", KindUpload, nil)

	mustUpdate(t, r, "upload-1", Delta{Seq: 1, Status: statusPtr(StatusProgress)})
	mustUpdate(t, r, "upload-1", Delta{Seq: 2, Status: statusPtr(StatusFail), Error: "网络错误"})

	if err := r.Delete("upload-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	st := r.Register("upload-1", KindUpload, map[string]any{"retry": true})

	if st.Seq != 0 {
		t.Errorf("重新登记后 seq = %d, want 0", st.Seq)
	}
	if st.Status != StatusPending {
		t.Errorf("重新登记后状态 = %s, want %s", st.Status, StatusPending)
	}
	if st.Error != "" {
		t.Errorf("重新登记后错误未清空: %s", st.Error)
	}
}

func TestRegistryNotifierReceivesAcceptedUpdates(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRegistry(nil, n)
	st := r.Create(KindProcessing, nil)

	mustUpdate(t, r, st.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress), Phase: phasePtr(PhaseTranscribe)})
	// 被拒绝的变更不应推送
	r.Update(st.TaskID, Delta{Seq: 9, Message: "无效"})
	mustUpdate(t, r, st.TaskID, Delta{Seq: 2, Progress: intPtr(10)})

	// 登记本身推一条初始快照，之后每次接受的变更各推一条
	if len(n.published) != 3 {
		t.Fatalf("推送了 %d 条变更, want 3", len(n.published))
	}
	if n.published[0].Seq != 0 || n.published[0].Status != StatusPending {
		t.Errorf("初始推送错误: seq=%d status=%s", n.published[0].Seq, n.published[0].Status)
	}
	if n.published[1].Seq != 1 || n.published[2].Seq != 2 {
		t.Errorf("推送的 seq 顺序错误: %d, %d", n.published[1].Seq, n.published[2].Seq)
	}
	if n.published[1].Phase != PhaseTranscribe {
		t.Errorf("推送的阶段错误: %s", n.published[1].Phase)
	}
}

// 重试流程：终态删除后重新登记，订阅者必须立刻收到新的 PENDING 快照
func TestRegistryReRegisterPublishesPending(t *testing.T) {
	n := &recordingNotifier{}
	r := NewRegistry(nil, n)

	r.Register("upload-1", KindUpload, nil)
	mustUpdate(t, r, "upload-1", Delta{Seq: 1, Status: statusPtr(StatusProgress)})
	mustUpdate(t, r, "upload-1", Delta{Seq: 2, Status: statusPtr(StatusFail), Error: "网络错误"})
	if err := r.Delete("upload-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	before := len(n.published)
	r.Register("upload-1", KindUpload, map[string]any{"retry": true})

	if len(n.published) != before+1 {
		t.Fatalf("重新登记推送了 %d 条, want 1", len(n.published)-before)
	}
	got := n.published[len(n.published)-1]
	if got.TaskID != "upload-1" || got.Status != StatusPending || got.Seq != 0 {
		t.Errorf("重新登记推送的快照错误: %+v", got)
	}
	if got.Error != "" {
		t.Errorf("重新登记推送的快照带了旧错误: %s", got.Error)
	}
}

func TestRegistryPruneTerminal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(clock, nil)

	old := r.Create(KindProcessing, nil)
	mustUpdate(t, r, old.TaskID, Delta{Seq: 1, Status: statusPtr(StatusFail), Error: "boom"})

	clock.advance(48 * time.Hour)
	fresh := r.Create(KindProcessing, nil)
	mustUpdate(t, r, fresh.TaskID, Delta{Seq: 1, Status: statusPtr(StatusProgress)})

	cutoff := clock.Now().Add(-24 * time.Hour).Unix()
	if pruned := r.PruneTerminal(cutoff); pruned != 1 {
		t.Errorf("PruneTerminal = %d, want 1", pruned)
	}
	if _, err := r.Get(old.TaskID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("过期终态任务未被清理: %v", err)
	}
	// 非终态任务不碰
	if _, err := r.Get(fresh.TaskID); err != nil {
		t.Errorf("活跃任务被误清理: %v", err)
	}
}

func mustUpdate(t *testing.T, r *Registry, taskID string, d Delta) State {
	t.Helper()
	st, err := r.Update(taskID, d)
	if err != nil {
		t.Fatalf("Update(seq=%d) failed: %v", d.Seq, err)
	}
	return st
}
