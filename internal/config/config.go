package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type HTTP struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Store struct {
	Driver string `yaml:"driver"` // sqlite|postgres|memory
	DSN    string `yaml:"dsn"`
}

type Redis struct {
	Addr     string `yaml:"addr"` // empty disables the event mirror
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Admin struct {
	SigningSecret string `yaml:"signing_key"` // base64, empty leaves admin routes open
}

type Relay struct {
	IdleRoomTimeout       time.Duration `yaml:"idle_room_timeout"`
	PersistSystemMessages bool          `yaml:"persist_system_messages"`
	ClientBuffer          int           `yaml:"client_buffer"`
}

type Log struct {
	Env   string `yaml:"env"` // dev|prod
	Level string `yaml:"level"`
}

type Config struct {
	HTTP  HTTP  `yaml:"http"`
	Store Store `yaml:"store"`
	Redis Redis `yaml:"redis"`
	Admin Admin `yaml:"admin"`
	Relay Relay `yaml:"relay"`
	Log   Log   `yaml:"log"`

	// SigningKey is the decoded Admin.SigningSecret, set by Validate.
	SigningKey []byte `yaml:"-"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTP{
			Addr: "localhost:8000",
		},
		Store: Store{
			Driver: DriverSqlite,
			DSN:    "relay.db",
		},
		Relay: Relay{
			IdleRoomTimeout: 5 * time.Second,
			ClientBuffer:    256,
		},
		Log: Log{
			Env: "dev",
		},
	}
}

// LoadFile overlays the YAML document at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays RELAY_* variables onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("RELAY_ADDR", &cfg.HTTP.Addr)
	str("RELAY_STORE_DRIVER", &cfg.Store.Driver)
	str("RELAY_STORE_DSN", &cfg.Store.DSN)
	str("RELAY_REDIS_ADDR", &cfg.Redis.Addr)
	str("RELAY_REDIS_PASSWORD", &cfg.Redis.Password)
	str("RELAY_ADMIN_SIGNING_KEY", &cfg.Admin.SigningSecret)
	str("RELAY_LOG_ENV", &cfg.Log.Env)
	str("RELAY_LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("RELAY_ALLOWED_ORIGINS"); ok && v != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(v, ",")
	}

	if v, ok := lookup("RELAY_REDIS_DB"); ok && v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELAY_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}

	if v, ok := lookup("RELAY_IDLE_ROOM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RELAY_IDLE_ROOM_TIMEOUT: %w", err)
		}
		cfg.Relay.IdleRoomTimeout = d
	}

	if v, ok := lookup("RELAY_PERSIST_SYSTEM_MESSAGES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RELAY_PERSIST_SYSTEM_MESSAGES: %w", err)
		}
		cfg.Relay.PersistSystemMessages = b
	}

	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// Validate checks cfg and decodes the admin signing key.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store.Driver {
	case DriverSqlite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store DSN cannot be empty for driver %q", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Relay.IdleRoomTimeout <= 0 {
		return fmt.Errorf("idle room timeout must be positive")
	}
	if c.Relay.ClientBuffer <= 0 {
		return fmt.Errorf("client buffer must be positive")
	}

	if c.Log.Env != "dev" && c.Log.Env != "prod" {
		return fmt.Errorf("log env must be dev or prod, got %q", c.Log.Env)
	}

	c.SigningKey = nil
	if c.Admin.SigningSecret != "" {
		key, err := decodeSigningSecret(c.Admin.SigningSecret)
		if err != nil {
			return fmt.Errorf("decode signing secret: %w", err)
		}
		c.SigningKey = key
	}

	return nil
}
