package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/service"
	"autoclip/app/task"

	"github.com/gin-gonic/gin"
)

// TaskHandler 处理任务查询、推送和流水线提交
type TaskHandler struct {
	logger      *logger.Logger
	registry    *task.Registry
	broadcaster *task.Broadcaster
	pipeline    *service.PipelineService
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(log *logger.Logger, registry *task.Registry, broadcaster *task.Broadcaster, pipeline *service.PipelineService) *TaskHandler {
	return &TaskHandler{
		logger:      log,
		registry:    registry,
		broadcaster: broadcaster,
		pipeline:    pipeline,
	}
}

// ProcessProject 对项目发起处理流水线
func (h *TaskHandler) ProcessProject(c *gin.Context) {
	projectID := c.Param("id")

	var project model.Project
	if err := database.GetDB().First(&project, "id = ?", projectID).Error; err != nil {
		respondError(c, http.StatusNotFound, 404, "项目不存在")
		return
	}

	st, err := h.pipeline.Submit(&project)
	if err != nil {
		respondError(c, http.StatusBadRequest, 400, err.Error())
		return
	}

	respondOK(c, st, "处理任务已提交")
}

// GetTask 轮询接口：从注册表读取任务当前权威状态
// 推送消息丢失或断连后，客户端用这个接口对账
func (h *TaskHandler) GetTask(c *gin.Context) {
	st, err := h.registry.Get(c.Param("id"))
	if err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, st, "ok")
}

// ListTasks 列出注册表中的全部任务
func (h *TaskHandler) ListTasks(c *gin.Context) {
	respondOK(c, h.registry.List(), "ok")
}

// CancelTask 取消处理任务
func (h *TaskHandler) CancelTask(c *gin.Context) {
	if err := h.pipeline.Cancel(c.Param("id")); err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, nil, "取消请求已发出")
}

// DeleteTask 删除终态任务
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := h.registry.Delete(c.Param("id")); err != nil {
		respondTaskError(c, err)
		return
	}
	respondOK(c, nil, "任务已删除")
}

// StreamTask SSE推送接口：每次状态变更推一条消息
// 尽力而为投递，客户端按 seq 去重，断连后走轮询接口对账
func (h *TaskHandler) StreamTask(c *gin.Context) {
	taskID := c.Param("id")

	// 先确认任务存在，并把当前状态作为首条消息
	current, err := h.registry.Get(taskID)
	if err != nil {
		respondTaskError(c, err)
		return
	}

	sub := h.broadcaster.Subscribe(taskID)
	defer h.broadcaster.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	writeEvent(c.Writer, current)
	c.Writer.Flush()

	// 首条消息之后若任务已是终态，无需挂住连接
	if current.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case st, ok := <-sub.C:
			if !ok {
				return
			}
			writeEvent(c.Writer, st)
			c.Writer.Flush()
			if st.Status.IsTerminal() {
				return
			}
		}
	}
}

// writeEvent 写一条SSE消息
func writeEvent(w io.Writer, st task.State) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
