package model

import (
	"time"
)

// 下载任务状态常量
const (
	DownloadStatusPending    = "pending"    // 等待中
	DownloadStatusProcessing = "processing" // 下载中
	DownloadStatusCompleted  = "completed"  // 已完成
	DownloadStatusFailed     = "failed"     // 失败
)

// VideoInfo 解析得到的视频信息
type VideoInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

// DownloadTask 平台下载任务模型
type DownloadTask struct {
	ID           string    `json:"id" gorm:"primarykey;size:36"`
	URL          string    `json:"url" gorm:"not null;index"`
	Platform     string    `json:"platform" gorm:"size:20;not null"` // youtube / bilibili
	Category     string    `json:"category" gorm:"size:32;default:default"`
	Status       string    `json:"status" gorm:"size:20;default:pending;index"`
	Progress     int       `json:"progress" gorm:"default:0"`
	Title        string    `json:"-" gorm:"size:512"`
	Uploader     string    `json:"-" gorm:"size:256"`
	Duration     float64   `json:"-"`
	ProjectID    string    `json:"project_id,omitempty" gorm:"size:36"` // 仅在成功后填充
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (DownloadTask) TableName() string {
	return "download_tasks"
}

// Info 返回视频信息，解析步骤完成前字段为空
func (t *DownloadTask) Info() VideoInfo {
	return VideoInfo{
		Title:    t.Title,
		Uploader: t.Uploader,
		Duration: t.Duration,
	}
}

// IsTerminal 是否为终态
func (t *DownloadTask) IsTerminal() bool {
	return t.Status == DownloadStatusCompleted || t.Status == DownloadStatusFailed
}

// CanCancel 仅在等待中或下载中允许取消
func (t *DownloadTask) CanCancel() bool {
	return t.Status == DownloadStatusPending || t.Status == DownloadStatusProcessing
}

// SetProcessing 置为下载中
func (t *DownloadTask) SetProcessing() {
	t.Status = DownloadStatusProcessing
}

// SetCompleted 置为已完成并关联项目
func (t *DownloadTask) SetCompleted(projectID string) {
	t.Status = DownloadStatusCompleted
	t.Progress = 100
	t.ProjectID = projectID
	t.ErrorMessage = ""
}

// SetFailed 置为失败并记录原因
func (t *DownloadTask) SetFailed(err error) {
	t.Status = DownloadStatusFailed
	t.ErrorMessage = err.Error()
}
