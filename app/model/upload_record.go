package model

import (
	"time"
)

// 上传记录状态常量
const (
	UploadStatusPending    = "pending"    // 等待中
	UploadStatusProcessing = "processing" // 上传中
	UploadStatusSuccess    = "success"    // 成功
	UploadStatusFailed     = "failed"     // 失败
	UploadStatusCancelled  = "cancelled"  // 已取消
)

// UploadRecord 平台上传记录模型
type UploadRecord struct {
	ID           string    `json:"id" gorm:"primarykey;size:36"`
	AccountID    uint      `json:"account_id" gorm:"not null;index"`
	ClipID       string    `json:"clip_id" gorm:"size:36;not null;index"`
	Title        string    `json:"title" gorm:"size:256;not null"`
	PartitionID  int       `json:"partition_id" gorm:"default:0"` // 投稿分区
	Tags         string    `json:"tags" gorm:"size:512"`          // 逗号分隔
	Status       string    `json:"status" gorm:"size:20;default:pending;index"`
	Progress     int       `json:"progress" gorm:"default:0"`
	FileSize     int64     `json:"file_size,omitempty"`
	BvID         string    `json:"bv_id,omitempty" gorm:"size:20"` // 投稿成功后填充
	AvID         int64     `json:"av_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Account *PlatformAccount `json:"account,omitempty" gorm:"foreignKey:AccountID"`
}

// TableName 指定表名
func (UploadRecord) TableName() string {
	return "upload_records"
}

// IsTerminal 是否为终态（成功/失败/取消）
func (r *UploadRecord) IsTerminal() bool {
	switch r.Status {
	case UploadStatusSuccess, UploadStatusFailed, UploadStatusCancelled:
		return true
	}
	return false
}

// CanRetry 仅失败状态允许重试
func (r *UploadRecord) CanRetry() bool {
	return r.Status == UploadStatusFailed
}

// CanCancel 仅等待中或上传中允许取消
func (r *UploadRecord) CanCancel() bool {
	return r.Status == UploadStatusPending || r.Status == UploadStatusProcessing
}

// ResetForRetry 重试：回到等待状态，清空错误信息，ID 不变
func (r *UploadRecord) ResetForRetry() {
	r.Status = UploadStatusPending
	r.Progress = 0
	r.ErrorMessage = ""
}

// SetCancelled 置为已取消
func (r *UploadRecord) SetCancelled() {
	r.Status = UploadStatusCancelled
	r.ErrorMessage = "用户取消上传"
}

// SetSuccess 投稿成功，记录平台返回的稿件号
func (r *UploadRecord) SetSuccess(bvID string, avID int64) {
	r.Status = UploadStatusSuccess
	r.Progress = 100
	r.BvID = bvID
	r.AvID = avID
	r.ErrorMessage = ""
}

// SetFailed 置为失败并记录原因
func (r *UploadRecord) SetFailed(err error) {
	r.Status = UploadStatusFailed
	r.ErrorMessage = err.Error()
}
