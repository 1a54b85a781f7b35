package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Project 视频项目，一次处理流水线的输入和产物挂在项目下
type Project struct {
	ID        string         `json:"id" gorm:"primarykey;size:36"`
	Name      string         `json:"name" gorm:"size:256;not null"`
	Category  string         `json:"category" gorm:"size:32;default:default"`
	VideoPath string         `json:"video_path" gorm:"size:1024"`
	SrtPath   string         `json:"srt_path" gorm:"size:1024"`
	Source    string         `json:"source" gorm:"size:20;default:local"` // local / youtube / bilibili
	SourceURL string         `json:"source_url" gorm:"size:1024"`
	TaskID    string         `json:"task_id,omitempty" gorm:"size:36;index"` // 最近一次处理任务
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Clips []Clip `json:"clips,omitempty" gorm:"foreignKey:ProjectID"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}

// Clip 流水线产出的切片
type Clip struct {
	ID        string    `json:"id" gorm:"primarykey;size:36"`
	ProjectID string    `json:"project_id" gorm:"size:36;not null;index"`
	Title     string    `json:"title" gorm:"size:256"`
	StartSec  float64   `json:"start_sec"`
	EndSec    float64   `json:"end_sec"`
	Score     float64   `json:"score"` // AI 评分
	FilePath  string    `json:"file_path" gorm:"size:1024"`
	FileSize  int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Clip) TableName() string {
	return "clips"
}

// Collection 切片合集
type Collection struct {
	ID        string    `json:"id" gorm:"primarykey;size:36"`
	ProjectID string    `json:"project_id" gorm:"size:36;index"`
	Title     string    `json:"title" gorm:"size:256;not null"`
	Summary   string    `json:"summary" gorm:"type:text"`
	CoverPath string    `json:"cover_path" gorm:"size:1024"`
	ClipIDs   string    `json:"clip_ids" gorm:"type:text"` // 逗号分隔，保持顺序
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Collection) TableName() string {
	return "collections"
}

// Clips 拆出合集关联的切片ID列表
func (c *Collection) Clips() []string {
	if c.ClipIDs == "" {
		return nil
	}
	return strings.Split(c.ClipIDs, ",")
}
