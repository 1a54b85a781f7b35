package database

import (
	"os"
	"path/filepath"
	"testing"

	"autoclip/app/config"
	"autoclip/app/logger"
)

func TestInitUsesConfiguredPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "autoclip.db")

	cfg := &config.Config{
		Server:   config.ServerConfig{Username: "admin", Password: "admin123"},
		Database: config.DatabaseConfig{Path: dbPath},
	}
	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})

	if err := Init(cfg, log); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer func() {
		Close()
		DB = nil
	}()

	// 数据库文件落在配置的路径，目录不存在时自动创建
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("数据库文件未写入配置路径: %v", err)
	}
}
