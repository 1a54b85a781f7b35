package database

import "autoclip/app/model"

func AutoMigrate() error {
	// 自动迁移表结构
	return DB.AutoMigrate(
		&model.User{},
		&model.Project{},
		&model.Clip{},
		&model.Collection{},
		&model.DownloadTask{},
		&model.UploadRecord{},
		&model.PlatformAccount{},
	)
}
