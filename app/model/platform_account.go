package model

import (
	"time"

	"gorm.io/gorm"
)

// 账号状态常量
const (
	AccountStatusActive  = "active"  // 可用
	AccountStatusExpired = "expired" // 凭证过期
)

// PlatformAccount 投稿平台账号
type PlatformAccount struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	Platform  string         `json:"platform" gorm:"size:20;not null"` // bilibili
	Nickname  string         `json:"nickname" gorm:"size:64"`
	Cookie    string         `json:"-" gorm:"type:text"` // 不序列化凭证
	Status    string         `json:"status" gorm:"size:20;default:active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 指定表名
func (PlatformAccount) TableName() string {
	return "platform_accounts"
}

// IsAvailable 账号凭证是否可用
func (a *PlatformAccount) IsAvailable() bool {
	return a.Status == AccountStatusActive && a.Cookie != ""
}
