package config

import (
	"os"
	"path/filepath"
	"testing"

	platformerrors "photosort-server-go/internal/platform/errors"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 8080
log:
  log_level: "DEBUG"
moderation:
  rate_limit:
    max_requests: 20
    window_ms: 2000
  detection:
    confidence_threshold: 70
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader().WithPath(configFile).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := result.Config

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Moderation.RateLimit.MaxRequests != 20 {
		t.Errorf("expected rate limit override 20, got %d", cfg.Moderation.RateLimit.MaxRequests)
	}
	if cfg.Moderation.Detection.ConfidenceThreshold != 70 {
		t.Errorf("expected confidence threshold 70, got %.1f", cfg.Moderation.Detection.ConfidenceThreshold)
	}

	// Fields absent from the file keep their defaults.
	if cfg.Moderation.Breaker.FailureThreshold != 5 {
		t.Errorf("expected default failure threshold 5, got %d", cfg.Moderation.Breaker.FailureThreshold)
	}
	if cfg.Moderation.Batch.ImageTimeoutMs != 8000 {
		t.Errorf("expected default image timeout 8000, got %d", cfg.Moderation.Batch.ImageTimeoutMs)
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader().WithPath(filepath.Join(t.TempDir(), "absent.yaml")).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("missing config file should fall back to defaults: %v", err)
	}
	if result.Path != "" {
		t.Errorf("expected empty origin path, got %q", result.Path)
	}
	if result.Config.Moderation.Concurrency.Optimal != 4 {
		t.Errorf("expected default optimal concurrency 4, got %d", result.Config.Moderation.Concurrency.Optimal)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("MODERATION_API_KEY", "sk-test")
	t.Setenv("SERVER_PORT", "9001")

	loader := NewLoader().WithPath(filepath.Join(t.TempDir(), "absent.yaml")).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if result.Config.Moderation.Provider.APIKey != "sk-test" {
		t.Errorf("expected API key from env, got %q", result.Config.Moderation.Provider.APIKey)
	}
	if result.Config.Server.Port != 9001 {
		t.Errorf("expected port 9001 from env, got %d", result.Config.Server.Port)
	}
}

func TestLoader_Validate(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "inverted concurrency bounds",
			mutate:  func(c *Config) { c.Moderation.Concurrency.Min = 10 },
			wantErr: true,
		},
		{
			name:    "confidence threshold above 100",
			mutate:  func(c *Config) { c.Moderation.Detection.ConfidenceThreshold = 120 },
			wantErr: true,
		},
		{
			name:    "zero rate limit window",
			mutate:  func(c *Config) { c.Moderation.RateLimit.WindowMs = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !platformerrors.IsKind(err, platformerrors.KindConfig) {
				t.Errorf("validation failure should be a config error, got %v", err)
			}
		})
	}
}
