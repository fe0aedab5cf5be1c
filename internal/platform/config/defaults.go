package config

import "time"

// DefaultConfig returns the baseline configuration applied before any
// file or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:               "0.0.0.0",
			Port:             8000,
			RequestTimeoutMs: 200000,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Moderation: ModerationConfig{
			Provider: ProviderConfig{
				Type:      "openai",
				ModelName: "gpt-4o-mini",
			},
			Security: SecurityConfig{
				MaxFileSize:    5 * 1024 * 1024,
				MaxPixels:      50_000_000,
				MaxWidth:       10000,
				MaxHeight:      10000,
				AllowedFormats: []string{"jpeg", "jpg", "png", "gif", "webp", "bmp"},
			},
			RateLimit: RateLimitConfig{
				MaxRequests: 10,
				WindowMs:    1000,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeMs:   30000,
			},
			Concurrency: ConcurrencyConfig{
				Min:             2,
				Optimal:         4,
				Max:             8,
				TargetLatencyMs: 2000,
			},
			Retry: RetryConfig{
				MaxRetries:  3,
				BaseDelayMs: 500,
				MaxDelayMs:  5000,
			},
			Batch: BatchConfig{
				ImageTimeoutMs:  8000,
				BatchTimeoutMs:  180000,
				ChunkPauseMs:    50,
				MemoryHintEvery: 50,
			},
			Detection: DetectionConfig{
				ConfidenceThreshold: 80,
				Categories: []string{
					"explicit nudity",
					"suggestive",
					"violence",
					"visually disturbing",
					"hate symbols",
				},
			},
			Cache: CacheConfig{
				Enabled: true,
				Type:    "memory",
				TTL:     15 * time.Minute,
			},
		},
	}
}
