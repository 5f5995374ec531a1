package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/agnivade/voiceagent/config"
)

// Driver names.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// ErrUnknownDriver is returned for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown history driver")

// NewBackend creates the backend selected by cfg.Driver.
func NewBackend(ctx context.Context, cfg config.HistoryConfig) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryBackend(), nil
	case DriverFile:
		return NewFileBackend(cfg.Path), nil
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return NewRedisBackend(client), nil
	case DriverSQLite:
		return OpenSQLiteBackend(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// MemoryBackend keeps nothing beyond the process lifetime.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (*MemoryBackend) Load(context.Context) (map[string][]Entry, error) {
	return map[string][]Entry{}, nil
}

func (*MemoryBackend) Append(context.Context, string, Entry) error { return nil }

func (*MemoryBackend) Close() error { return nil }
