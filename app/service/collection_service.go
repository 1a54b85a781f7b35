package service

import (
	"fmt"
	"path/filepath"
	"strings"

	"autoclip/app/config"
	"autoclip/app/database"
	"autoclip/app/logger"
	"autoclip/app/model"
	"autoclip/app/utils/cover"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxClipsPerCollection 单个合集的最大切片数
const maxClipsPerCollection = 10

// CollectionService 合集服务
type CollectionService struct {
	cfg *config.Config
	log *logger.Logger
	db  *gorm.DB
}

// NewCollectionService 创建合集服务
func NewCollectionService(cfg *config.Config, log *logger.Logger) *CollectionService {
	return &CollectionService{
		cfg: cfg,
		log: log,
		db:  database.GetDB(),
	}
}

// Create 创建合集并关联切片，切片顺序保持传入顺序
func (s *CollectionService) Create(projectID, title, summary string, clipIDs []string) (*model.Collection, error) {
	if title == "" {
		return nil, fmt.Errorf("合集标题不能为空")
	}
	if len(clipIDs) > maxClipsPerCollection {
		clipIDs = clipIDs[:maxClipsPerCollection]
	}

	// 只保留真实存在的切片
	var valid []string
	for _, id := range clipIDs {
		var clip model.Clip
		if err := s.db.First(&clip, "id = ?", id).Error; err == nil {
			valid = append(valid, id)
		}
	}

	c := &model.Collection{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     title,
		Summary:   summary,
		ClipIDs:   strings.Join(valid, ","),
	}
	if err := s.db.Create(c).Error; err != nil {
		return nil, err
	}

	s.log.Infof("合集已创建: ID=%s, Title=%s, 切片数=%d", c.ID, title, len(valid))
	return c, nil
}

// Get 查询合集
func (s *CollectionService) Get(id string) (*model.Collection, error) {
	var c model.Collection
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// List 按项目查询合集
func (s *CollectionService) List(projectID string) ([]model.Collection, error) {
	var collections []model.Collection
	query := s.db.Order("created_at DESC")
	if projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	if err := query.Find(&collections).Error; err != nil {
		return nil, err
	}
	return collections, nil
}

// Update 更新合集标题、简介或切片列表
func (s *CollectionService) Update(id, title, summary string, clipIDs []string) (*model.Collection, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if title != "" {
		c.Title = title
	}
	if summary != "" {
		c.Summary = summary
	}
	if clipIDs != nil {
		if len(clipIDs) > maxClipsPerCollection {
			clipIDs = clipIDs[:maxClipsPerCollection]
		}
		c.ClipIDs = strings.Join(clipIDs, ",")
	}

	if err := s.db.Save(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// Delete 删除合集
func (s *CollectionService) Delete(id string) error {
	return s.db.Delete(&model.Collection{}, "id = ?", id).Error
}

// GenerateCover 为合集生成封面图
func (s *CollectionService) GenerateCover(id string) (*model.Collection, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	subtitle := ""
	if ids := c.Clips(); len(ids) > 0 {
		subtitle = fmt.Sprintf("共 %d 个切片", len(ids))
	}

	outPath := filepath.Join(s.cfg.Pipeline.OutputDir, "covers", c.ID+".png")
	if err := cover.Generate(cover.Options{
		Title:    c.Title,
		Subtitle: subtitle,
	}, outPath); err != nil {
		return nil, err
	}

	c.CoverPath = outPath
	if err := s.db.Save(c).Error; err != nil {
		return nil, err
	}

	s.log.Infof("合集封面已生成: ID=%s, 路径=%s", c.ID, outPath)
	return c, nil
}
