// =============================================================================
// 📦 Orchestral 默认配置
// =============================================================================
package config

import (
	"time"

	"github.com/orchestral-ai/orchestral/persistence"
	"github.com/orchestral-ai/orchestral/workflow"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Store:     DefaultStoreConfig(),
		Metrics:   DefaultMetricsConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Workflow: WorkflowConfig{
			Topology: string(workflow.TopologySequential),
			Retry: &RetryConfig{
				MaxRetries: 2,
				RetryDelay: Duration(time.Second),
				Backoff:    true,
			},
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() persistence.Config {
	return persistence.Config{
		Backend: persistence.BackendMemory,
		Redis: persistence.RedisConfig{
			Addr: "localhost:6379",
		},
		SQLitePath: "orchestral.db",
		TTL:        7 * 24 * time.Hour,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "orchestral",
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: false,
		RPS:     10,
		Burst:   20,
	}
}
