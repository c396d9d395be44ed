// =============================================================================
// 📦 Orchestral 配置结构
// =============================================================================
package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orchestral-ai/orchestral/persistence"
)

// Config 是 Orchestral 的完整配置结构
type Config struct {
	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Store 会话日志存储配置
	Store persistence.Config `yaml:"store"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// RateLimit 对底层模型调用的限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Workflow 工作流定义，经 Build 转换成 workflow.Config
	Workflow WorkflowConfig `yaml:"workflow"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// Build 根据配置构建 zap 日志器
func (lc *LogConfig) Build() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	var zc zap.Config
	switch lc.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "", "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", lc.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用 Prometheus 指标
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// RateLimitConfig 限流配置（令牌桶）
type RateLimitConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 每秒请求数
	RPS float64 `yaml:"rps" env:"RPS"`
	// 突发容量
	Burst int `yaml:"burst" env:"BURST"`
}

// Validate 检查配置的结构完整性
func (c *Config) Validate() error {
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate limit rps must be positive, got %v", c.RateLimit.RPS)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace must be set when metrics are enabled")
	}
	_, err := c.Workflow.Build()
	return err
}
