package task

// Kind 任务类型
type Kind string

const (
	KindProcessing Kind = "processing" // 视频处理流水线任务
	KindDownload   Kind = "download"   // 平台下载任务
	KindUpload     Kind = "upload"     // 平台上传任务
)

// Status 处理任务状态
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusDone     Status = "DONE"
	StatusFail     Status = "FAIL"
)

// IsTerminal 是否为终态（终态不可再变更）
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFail
}

// allowedTransitions 状态机合法迁移表
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProgress: true,
		StatusFail:     true,
	},
	StatusProgress: {
		StatusProgress: true,
		StatusDone:     true,
		StatusFail:     true,
	},
}

// CanTransition 检查状态迁移是否合法
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Phase 处理任务的流水线阶段
type Phase string

const (
	PhaseTranscribe Phase = "transcribe" // 转写
	PhaseAnalyze    Phase = "analyze"    // AI分析
	PhaseClip       Phase = "clip"       // 切片
	PhaseEncode     Phase = "encode"     // 转码
	PhaseUpload     Phase = "upload"     // 上传
)

// Phases 阶段顺序表，新增或调整阶段只改这里
var Phases = []Phase{
	PhaseTranscribe,
	PhaseAnalyze,
	PhaseClip,
	PhaseEncode,
	PhaseUpload,
}

// PhaseIndex 返回阶段在顺序表中的下标，未知阶段返回 -1
func PhaseIndex(p Phase) int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

// State 任务的完整运行时状态，注册表中的唯一权威副本
type State struct {
	TaskID      string         `json:"task_id"`
	Kind        Kind           `json:"kind"`
	Status      Status         `json:"status"`
	Phase       Phase          `json:"phase,omitempty"`
	Progress    int            `json:"progress"`
	Step        int            `json:"step"`
	Total       int            `json:"total"`
	Message     string         `json:"message"`
	Seq         uint64         `json:"seq"`
	TS          int64          `json:"ts"`           // 秒级时间戳
	LastUpdated int64          `json:"last_updated"` // 毫秒级时间戳
	Meta        map[string]any `json:"meta"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

// Clone 返回状态的深拷贝，广播前使用，避免订阅者读到并发修改
func (s State) Clone() State {
	out := s
	if s.Meta != nil {
		out.Meta = make(map[string]any, len(s.Meta))
		for k, v := range s.Meta {
			out.Meta[k] = v
		}
	}
	return out
}

// OverallProgress 按阶段下标和阶段内进度计算总体进度
// 公式: floor(100 * (phaseIndex + step/total) / phaseCount)
// step/total 每个阶段重置，但总体进度保持单调不减
func OverallProgress(phaseIndex, step, total int) int {
	if total <= 0 {
		total = 1
	}
	if step > total {
		step = total
	}
	if step < 0 {
		step = 0
	}
	return int(100 * (float64(phaseIndex) + float64(step)/float64(total)) / float64(len(Phases)))
}
