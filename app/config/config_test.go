package config

import (
	"testing"
	"time"
)

func validTestConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8000"},
		JWT:      JWTConfig{Secret: "secret"},
		Pipeline: PipelineConfig{Workers: 2, PhaseTimeout: 30},
		Cleanup:  CleanupConfig{Schedule: "0 3 * * *", RetentionDays: 7},
	}
}

func TestValidateConfig(t *testing.T) {
	if err := validateConfig(validTestConfig()); err != nil {
		t.Errorf("合法配置校验失败: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"缺少端口", func(c *Config) { c.Server.Port = "" }},
		{"缺少JWT密钥", func(c *Config) { c.JWT.Secret = "" }},
		{"流水线并发数为零", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"保留天数为零", func(c *Config) { c.Cleanup.RetentionDays = 0 }},
	}
	for _, c := range cases {
		cfg := validTestConfig()
		c.mutate(cfg)
		if err := validateConfig(cfg); err == nil {
			t.Errorf("%s: 非法配置未报错", c.name)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	p := PipelineConfig{PhaseTimeout: 30}
	if got := p.PhaseTimeoutDuration(); got != 30*time.Minute {
		t.Errorf("PhaseTimeoutDuration = %v", got)
	}

	d := DownloadConfig{InfoCacheTTL: 15}
	if got := d.InfoCacheTTLDuration(); got != 15*time.Minute {
		t.Errorf("InfoCacheTTLDuration = %v", got)
	}
}
