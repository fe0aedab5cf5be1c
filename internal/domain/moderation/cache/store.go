// Package cache stores moderation results keyed by image content so that a
// re-submitted image skips the external detector entirely. Entries expire
// after a configured TTL; a result computed for identical bytes is identical.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"photosort-server-go/internal/domain/moderation"
)

// Store is the behaviour the pipeline needs from a result cache.
type Store interface {
	Get(ctx context.Context, key string) (moderation.Result, bool, error)
	Set(ctx context.Context, key string, result moderation.Result) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

// Key derives the cache key from the raw image bytes. Two images with the
// same content share a key regardless of their caller-assigned IDs.
func Key(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}
