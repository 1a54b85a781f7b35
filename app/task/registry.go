package task

import (
	"sync"

	"github.com/google/uuid"
)

// Notifier 接收注册表接受的每一次状态变更（通常是 Broadcaster）
type Notifier interface {
	Publish(state State)
}

// Delta 单次状态变更，最多携带一个 status/phase/progress 变化
// Seq 必须等于任务当前 seq + 1，否则变更被拒绝
type Delta struct {
	Seq      uint64
	Status   *Status
	Phase    *Phase
	Progress *int
	Step     *int
	Total    *int
	Message  string
	Error    string
	Meta     map[string]any
}

// entry 注册表条目，每个任务独立持锁，互不阻塞
type entry struct {
	mu    sync.Mutex
	state State
}

// Registry 进程级任务注册表，持有所有任务的权威状态
// 所有变更必须经过 Update，变更成功后同步推送给 Notifier
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	clock    Clock
	notifier Notifier
}

// NewRegistry 创建任务注册表
func NewRegistry(clock Clock, notifier Notifier) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{
		entries:  make(map[string]*entry),
		clock:    clock,
		notifier: notifier,
	}
}

// Create 创建新任务，初始状态 PENDING，seq 从 0 开始
// 第一次 Update 必须携带 seq=1
func (r *Registry) Create(kind Kind, meta map[string]any) State {
	return r.Register(uuid.NewString(), kind, meta)
}

// Register 以指定ID登记任务，下载/上传记录用自身ID作为任务ID
// 重试会对同一ID重新登记，seq 上下文随之重置
// 登记本身也是一次状态变更，初始 PENDING 快照同样推送给订阅者
func (r *Registry) Register(taskID string, kind Kind, meta map[string]any) State {
	now := r.clock.Now()
	st := State{
		TaskID:      taskID,
		Kind:        kind,
		Status:      StatusPending,
		Progress:    0,
		Seq:         0,
		TS:          now.Unix(),
		LastUpdated: now.UnixMilli(),
		CreatedAt:   now.Unix(),
		Meta:        meta,
	}

	r.mu.Lock()
	r.entries[st.TaskID] = &entry{state: st}
	r.mu.Unlock()

	snapshot := st.Clone()
	if r.notifier != nil {
		r.notifier.Publish(snapshot)
	}
	return snapshot
}

// lookup 查找条目
func (r *Registry) lookup(taskID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[taskID]
	return e, ok
}

// Get 读取任务当前权威状态，对账接口走这里，绝不读广播缓冲
func (r *Registry) Get(taskID string) (State, error) {
	e, ok := r.lookup(taskID)
	if !ok {
		return State{}, ErrTaskNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), nil
}

// Update 提交一次状态变更
// 拒绝条件：任务已处于终态；seq 不等于当前 seq+1；非法状态迁移；进度回退
func (r *Registry) Update(taskID string, d Delta) (State, error) {
	e, ok := r.lookup(taskID)
	if !ok {
		return State{}, ErrTaskNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := &e.state
	if cur.Status.IsTerminal() {
		return State{}, ErrStaleUpdate
	}
	if d.Seq != cur.Seq+1 {
		return State{}, ErrStaleUpdate
	}

	if d.Status != nil && !CanTransition(cur.Status, *d.Status) {
		return State{}, ErrInvalidTransition
	}
	if d.Progress != nil && *d.Progress < cur.Progress {
		return State{}, ErrStaleUpdate
	}

	if d.Status != nil {
		cur.Status = *d.Status
	}
	if d.Phase != nil {
		cur.Phase = *d.Phase
	}
	if d.Progress != nil {
		cur.Progress = *d.Progress
	}
	if d.Step != nil {
		cur.Step = *d.Step
	}
	if d.Total != nil {
		cur.Total = *d.Total
	}
	if d.Message != "" {
		cur.Message = d.Message
	}
	if d.Error != "" {
		cur.Error = d.Error
	}
	if d.Meta != nil {
		if cur.Meta == nil {
			cur.Meta = make(map[string]any, len(d.Meta))
		}
		for k, v := range d.Meta {
			cur.Meta[k] = v
		}
	}

	now := r.clock.Now()
	cur.Seq = d.Seq
	cur.TS = now.Unix()
	cur.LastUpdated = now.UnixMilli()

	snapshot := cur.Clone()
	if r.notifier != nil {
		r.notifier.Publish(snapshot)
	}
	return snapshot, nil
}

// Delete 删除任务，仅允许删除终态任务
func (r *Registry) Delete(taskID string) error {
	e, ok := r.lookup(taskID)
	if !ok {
		return ErrTaskNotFound
	}

	e.mu.Lock()
	terminal := e.state.Status.IsTerminal()
	e.mu.Unlock()

	if !terminal {
		return ErrInvalidTransition
	}

	r.mu.Lock()
	delete(r.entries, taskID)
	r.mu.Unlock()
	return nil
}

// List 返回所有任务状态的快照
func (r *Registry) List() []State {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state.Clone())
		e.mu.Unlock()
	}
	return out
}

// PruneTerminal 清理更新时间早于 cutoff（秒级时间戳）的终态任务，返回清理数量
func (r *Registry) PruneTerminal(cutoff int64) int {
	var stale []string
	for _, st := range r.List() {
		if st.Status.IsTerminal() && st.TS < cutoff {
			stale = append(stale, st.TaskID)
		}
	}

	pruned := 0
	for _, id := range stale {
		if err := r.Delete(id); err == nil {
			pruned++
		}
	}
	return pruned
}
