package task

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("任务不存在")
	// ErrStaleUpdate 对终态任务的变更，或 seq 不连续的变更
	ErrStaleUpdate = errors.New("过期的状态变更")
	// ErrInvalidTransition 当前状态下不允许的操作
	ErrInvalidTransition = errors.New("非法的状态迁移")
	// ErrUnsupportedSource 不支持的视频来源地址
	ErrUnsupportedSource = errors.New("不支持的视频来源")
	// ErrCancelled 任务被取消
	ErrCancelled = errors.New("任务已取消")
)

// HandlerError 外部协作者（阶段处理器、下载、上传客户端）返回的失败
// 统一落到任务的 error 字段，不向管理器之外抛出
type HandlerError struct {
	Phase Phase
	Cause error
}

func (e *HandlerError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("阶段 %s 执行失败: %v", e.Phase, e.Cause)
	}
	return e.Cause.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// NewHandlerError 包装阶段处理器错误
func NewHandlerError(phase Phase, cause error) *HandlerError {
	return &HandlerError{Phase: phase, Cause: cause}
}
