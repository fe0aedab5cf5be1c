package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "photosort-server-go/internal/platform/errors"
)

const defaultConfigPath = ".config.yaml"

// Loader reads configuration from defaults, an optional yaml file and
// environment variables, in that order of precedence.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader reading the default config path.
func NewLoader() *Loader {
	return &Loader{
		path:      defaultConfigPath,
		useDotEnv: true,
	}
}

// WithPath overrides the yaml file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load assembles the effective configuration.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using process environment")
		}
	}

	cfg := DefaultConfig()

	path := l.path
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(
				platformerrors.KindConfig, "load", "parse config file", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, platformerrors.Wrap(
			platformerrors.KindConfig, "load", "read config file", err)
	} else {
		path = ""
	}

	applyEnvOverrides(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

// applyEnvOverrides lets deployment environments inject secrets and
// endpoints without touching the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODERATION_API_KEY"); v != "" {
		cfg.Moderation.Provider.APIKey = v
	}
	if v := os.Getenv("MODERATION_BASE_URL"); v != "" {
		cfg.Moderation.Provider.BaseURL = v
	}
	if v := os.Getenv("MODERATION_MODEL"); v != "" {
		cfg.Moderation.Provider.ModelName = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Moderation.Cache.Redis.Addr = v
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}

	cc := cfg.Moderation.Concurrency
	if cc.Min < 1 || cc.Min > cc.Max {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			fmt.Sprintf("invalid concurrency bounds: min=%d max=%d", cc.Min, cc.Max))
	}
	if cc.Optimal < cc.Min || cc.Optimal > cc.Max {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			fmt.Sprintf("optimal concurrency %d outside [%d,%d]", cc.Optimal, cc.Min, cc.Max))
	}

	dt := cfg.Moderation.Detection
	if dt.ConfidenceThreshold < 0 || dt.ConfidenceThreshold > 100 {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			fmt.Sprintf("confidence threshold %.1f outside [0,100]", dt.ConfidenceThreshold))
	}

	rl := cfg.Moderation.RateLimit
	if rl.MaxRequests < 1 || rl.WindowMs < 1 {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"rate limit requires positive window and request count")
	}

	return nil
}
