package cache

import "fmt"

// Driver identifiers supported by the result cache.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// New creates a result cache based on the provided configuration.
func New(cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(cfg), nil
	case DriverRedis:
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", driver)
	}
}
