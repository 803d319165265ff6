// Package store provides the key/value persistence used for the session,
// device identifier and version cache slots.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = errors.New("key not found")

// Store is a string key/value store
type Store interface {
	// Get returns the value for key or ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites the value for key
	Set(ctx context.Context, key, value string) error
	// Remove deletes key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error
	// Close releases the backend
	Close() error
}

// Backend names accepted by Open
const (
	BackendMemory  = "memory"
	BackendLocal   = "local"
	BackendKeyring = "keyring"
	BackendSqlite  = "sqlite"
	BackendRedis   = "redis"
)

// Config selects and configures a backend
type Config struct {
	Backend string
	// Path is the folder (local, keyring file fallback) or database file (sqlite)
	Path string
	// Password unlocks the encrypted keyring file backend
	Password string
	// PasswordFunc is asked for the keyring password when Password is empty
	PasswordFunc func(prompt string) (string, error)
	Redis        RedisConfig
}

// RedisConfig configures the redis backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open creates the backend named in conf
func Open(ctx context.Context, conf Config) (Store, error) {
	switch strings.ToLower(conf.Backend) {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendLocal:
		return NewLocal(conf.Path)
	case BackendKeyring:
		return NewKeyring(conf.Path, conf.Password, conf.PasswordFunc)
	case BackendSqlite:
		return NewSqlite(conf.Path)
	case BackendRedis:
		return NewRedis(ctx, conf.Redis)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", conf.Backend)
	}
}
