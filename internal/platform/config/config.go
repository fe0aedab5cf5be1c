package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Moderation ModerationConfig `yaml:"moderation"`
}

type ServerConfig struct {
	IP               string `yaml:"ip"`
	Port             int    `yaml:"port"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// ModerationConfig groups every knob of the batch moderation pipeline.
type ModerationConfig struct {
	Provider    ProviderConfig    `yaml:"provider"`
	Security    SecurityConfig    `yaml:"security"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Breaker     BreakerConfig     `yaml:"circuit_breaker"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Retry       RetryConfig       `yaml:"retry"`
	Batch       BatchConfig       `yaml:"batch"`
	Detection   DetectionConfig   `yaml:"detection"`
	Cache       CacheConfig       `yaml:"cache"`
}

// ProviderConfig describes the external label-detection dependency.
type ProviderConfig struct {
	Type      string `yaml:"type"`
	ModelName string `yaml:"model_name"`
	BaseURL   string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
}

type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxPixels      int64    `yaml:"max_pixels"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

type RateLimitConfig struct {
	MaxRequests int `yaml:"max_requests"`
	WindowMs    int `yaml:"window_ms"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	RecoveryTimeMs   int `yaml:"recovery_time_ms"`
}

type ConcurrencyConfig struct {
	Min             int `yaml:"min"`
	Optimal         int `yaml:"optimal"`
	Max             int `yaml:"max"`
	TargetLatencyMs int `yaml:"target_latency_ms"`
}

type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

type BatchConfig struct {
	ImageTimeoutMs  int `yaml:"image_timeout_ms"`
	BatchTimeoutMs  int `yaml:"batch_timeout_ms"`
	ChunkPauseMs    int `yaml:"chunk_pause_ms"`
	MemoryHintEvery int `yaml:"memory_hint_every"`
}

type DetectionConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	Categories          []string `yaml:"categories"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Type    string        `yaml:"type"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// RequestTimeout returns the whole-request handler deadline.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Window returns the sliding window duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// RecoveryTime returns the breaker cooldown duration.
func (c BreakerConfig) RecoveryTime() time.Duration {
	return time.Duration(c.RecoveryTimeMs) * time.Millisecond
}

// TargetLatency returns the adaptive tuning latency target.
func (c ConcurrencyConfig) TargetLatency() time.Duration {
	return time.Duration(c.TargetLatencyMs) * time.Millisecond
}

// BaseDelay returns the first retry backoff interval.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap.
func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// ImageTimeout returns the per-image external call deadline.
func (c BatchConfig) ImageTimeout() time.Duration {
	return time.Duration(c.ImageTimeoutMs) * time.Millisecond
}

// BatchTimeout returns the whole-batch processing deadline.
func (c BatchConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

// ChunkPause returns the cool-down between processed chunks.
func (c BatchConfig) ChunkPause() time.Duration {
	return time.Duration(c.ChunkPauseMs) * time.Millisecond
}
