// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/ipastore/internal/appstore"
	"github.com/blacktop/ipastore/internal/store"
	"github.com/blacktop/ipastore/internal/tasks"
	"github.com/blacktop/ipastore/internal/transport"
	"github.com/spf13/viper"
)

type daemon struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Socket string `mapstructure:"socket"`
	Debug  bool   `mapstructure:"debug"`
}

type redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type storage struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"password"`
	Redis    redis  `mapstructure:"redis"`
}

type network struct {
	Proxy     string        `mapstructure:"proxy"`
	Insecure  bool          `mapstructure:"insecure"`
	CAFile    string        `mapstructure:"ca-file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate-limit"`
}

type concurrency struct {
	Limit    int           `mapstructure:"limit"`
	MaxRetry int           `mapstructure:"max-retry"`
	WaitTime time.Duration `mapstructure:"wait-time"`
}

type appStore struct {
	Country        string        `mapstructure:"country"`
	MaxAppCache    int           `mapstructure:"max-app-cache"`
	ResolveTimeout time.Duration `mapstructure:"resolve-timeout"`
	Concurrency    concurrency   `mapstructure:"concurrency"`
	// Sources limits the third-party version sources by name
	Sources []string `mapstructure:"sources"`
}

// Config is the configuration struct
type Config struct {
	Daemon   daemon   `mapstructure:"daemon"`
	Storage  storage  `mapstructure:"storage"`
	Network  network  `mapstructure:"network"`
	AppStore appStore `mapstructure:"appstore"`
}

// Dir is the default folder for the socket and local state
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %v", err)
	}
	return filepath.Join(home, ".config", "ipastore"), nil
}

func (c *Config) verify() error {
	if c.Daemon.Host == "" && c.Daemon.Port == 0 && c.Daemon.Socket == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.Daemon.Socket = filepath.Join(dir, "ipastore.sock")
	} else if c.Daemon.Host != "" && c.Daemon.Socket != "" {
		return fmt.Errorf("config: host and socket cannot be set at the same time")
	} else if c.Daemon.Host != "" && c.Daemon.Port == 0 {
		return fmt.Errorf("config: port must be set if host is set")
	} else if c.Daemon.Host == "" && c.Daemon.Port != 0 {
		c.Daemon.Host = "localhost"
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "":
		c.Storage.Backend = store.BackendLocal
		fallthrough
	case store.BackendLocal, store.BackendKeyring:
		if c.Storage.Path == "" {
			dir, err := Dir()
			if err != nil {
				return err
			}
			c.Storage.Path = filepath.Join(dir, "cache")
		}
	case store.BackendSqlite:
		if c.Storage.Path == "" {
			dir, err := Dir()
			if err != nil {
				return err
			}
			c.Storage.Path = filepath.Join(dir, "ipastore.db")
		}
	case store.BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("config: storage.redis.addr must be set for the redis backend")
		}
	case store.BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.AppStore.MaxAppCache < 0 {
		return fmt.Errorf("config: appstore.max-app-cache must be positive")
	}
	if c.Network.RateLimit < 0 {
		return fmt.Errorf("config: network.rate-limit must be positive")
	}
	return nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load reads the configuration from v
func Load(v *viper.Viper) (*Config, error) {
	var c *Config

	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}

// StoreConfig is the cache backend configuration
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend:  c.Storage.Backend,
		Path:     c.Storage.Path,
		Password: c.Storage.Password,
		Redis: store.RedisConfig{
			Addr:     c.Storage.Redis.Addr,
			Password: c.Storage.Redis.Password,
			DB:       c.Storage.Redis.DB,
			Prefix:   c.Storage.Redis.Prefix,
		},
	}
}

// TransportConfig is the HTTP client configuration
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Proxy:     c.Network.Proxy,
		Insecure:  c.Network.Insecure,
		CAFile:    c.Network.CAFile,
		Timeout:   c.Network.Timeout,
		RateLimit: c.Network.RateLimit,
	}
}

// AppStoreConfig overlays the configured values on the defaults
func (c *Config) AppStoreConfig() (appstore.Config, error) {
	conf := appstore.DefaultConfig()
	if c.AppStore.Country != "" {
		conf.Country = c.AppStore.Country
	}
	if c.AppStore.MaxAppCache > 0 {
		conf.MaxAppCache = c.AppStore.MaxAppCache
	}
	if c.AppStore.ResolveTimeout > 0 {
		conf.ResolveTimeout = c.AppStore.ResolveTimeout
	}
	if cc := c.AppStore.Concurrency; cc != (concurrency{}) {
		conf.Concurrency = tasks.Options{
			ConcurrencyLimit: cc.Limit,
			MaxRetry:         cc.MaxRetry,
			WaitTime:         cc.WaitTime,
		}
	}
	if len(c.AppStore.Sources) > 0 {
		var sources []appstore.Source
		for _, name := range c.AppStore.Sources {
			found := false
			for _, src := range conf.Sources {
				if strings.EqualFold(src.Name, name) {
					sources = append(sources, src)
					found = true
				}
			}
			if !found {
				return conf, fmt.Errorf("config: unknown version source %q", name)
			}
		}
		conf.Sources = sources
	}
	return conf, nil
}
