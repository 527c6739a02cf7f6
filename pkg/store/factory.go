package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Options selects and configures a storage backend.
type Options struct {
	// Backend is "bolt" (default, local file) or "redis".
	Backend string

	// BoltPath is the database file path for the bolt backend.
	BoltPath string

	// RedisAddr is the host:port for the redis backend.
	RedisAddr string
}

// New creates the configured backend.
func New(opts Options) (Backend, error) {
	switch opts.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		return NewRedisBackend(client), nil
	case "", "bolt":
		return OpenBolt(opts.BoltPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
