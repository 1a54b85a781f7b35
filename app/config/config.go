package config

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Download DownloadConfig `mapstructure:"download"`
	Upload   UploadConfig   `mapstructure:"upload"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite 数据库文件路径
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// PipelineConfig 处理流水线配置
type PipelineConfig struct {
	Workers      int    `mapstructure:"workers"`       // 并行执行的任务数
	PhaseTimeout int    `mapstructure:"phase_timeout"` // 单阶段超时（分钟）
	OutputDir    string `mapstructure:"output_dir"`    // 切片输出目录
}

// PhaseTimeoutDuration 单阶段超时时间
func (p PipelineConfig) PhaseTimeoutDuration() time.Duration {
	return time.Duration(p.PhaseTimeout) * time.Minute
}

// DownloadConfig 平台下载配置
type DownloadConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`       // 最大并发下载数
	SaveDir          string `mapstructure:"save_dir"`          // 视频保存目录
	ImmediateProject bool   `mapstructure:"immediate_project"` // 提交时立即创建项目，否则轮询到终态
	InfoCacheTTL     int    `mapstructure:"info_cache_ttl"`    // 视频信息缓存时间（分钟）
}

// InfoCacheTTLDuration 视频信息缓存时间
func (d DownloadConfig) InfoCacheTTLDuration() time.Duration {
	return time.Duration(d.InfoCacheTTL) * time.Minute
}

// UploadConfig 平台上传配置
type UploadConfig struct {
	Concurrency int    `mapstructure:"concurrency"` // 最大并发上传数
	BaseURL     string `mapstructure:"base_url"`    // 投稿接口地址
}

// LLMConfig 大模型接口配置
type LLMConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
	Timeout    int    `mapstructure:"timeout"` // 秒
}

// WatcherConfig 本地视频目录监控配置
type WatcherConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Dir           string `mapstructure:"dir"`            // 监控目录
	StableSeconds int    `mapstructure:"stable_seconds"` // 文件大小稳定多少秒后认为写入完成
}

// CleanupConfig 终态任务清理配置
type CleanupConfig struct {
	Schedule      string `mapstructure:"schedule"`       // cron 表达式
	RetentionDays int    `mapstructure:"retention_days"` // 终态记录保留天数
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "8000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 数据库默认配置
	viper.SetDefault("database.path", "data/autoclip.db")

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "autoclip")

	// 流水线默认配置
	viper.SetDefault("pipeline.workers", 2)
	viper.SetDefault("pipeline.phase_timeout", 30)
	viper.SetDefault("pipeline.output_dir", "data/output")

	// 下载默认配置
	viper.SetDefault("download.concurrency", 2)
	viper.SetDefault("download.save_dir", "data/uploads")
	viper.SetDefault("download.immediate_project", false)
	viper.SetDefault("download.info_cache_ttl", 30)

	// 上传默认配置
	viper.SetDefault("upload.concurrency", 1)
	viper.SetDefault("upload.base_url", "https://member.bilibili.com")

	// 大模型默认配置
	viper.SetDefault("llm.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	viper.SetDefault("llm.model", "qwen-plus")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("llm.timeout", 120)

	// 目录监控默认配置
	viper.SetDefault("watcher.enabled", false)
	viper.SetDefault("watcher.dir", "data/inbox")
	viper.SetDefault("watcher.stable_seconds", 5)

	// 清理默认配置
	viper.SetDefault("cleanup.schedule", "0 3 * * *") // 每天凌晨3点
	viper.SetDefault("cleanup.retention_days", 7)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Pipeline.Workers <= 0 {
		return fmt.Errorf("流水线并发数必须大于 0")
	}
	if config.Cleanup.RetentionDays <= 0 {
		return fmt.Errorf("终态记录保留天数必须大于 0")
	}
	return nil
}
