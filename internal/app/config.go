package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/medipanel/medigate/internal/credstore"
	"github.com/medipanel/medigate/internal/pipeline"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SessionStorageType represents the different storage types supported for the
// session document.
type SessionStorageType string

const (
	SessionStorageFile    SessionStorageType = "file"
	SessionStorageKeyring SessionStorageType = "keyring"
	SessionStorageRedis   SessionStorageType = "redis"
	SessionStorageMemory  SessionStorageType = "memory"
)

// keyringService identifies medigate's entry in the OS keyring.
const keyringService = "medigate-session"

// Default configuration values
const (
	DefaultConfigLogFormat       = LogFormatText
	DefaultConfigServerHost      = "127.0.0.1"
	DefaultConfigServerPort      = 4600
	DefaultConfigShutdownTimeout = 5 * time.Second
	DefaultConfigAuthStorage     = SessionStorageFile
	DefaultConfigUpstreamBaseURL = "https://api.medipanel.app"
	DefaultConfigRedisAddr       = "127.0.0.1:6379"
	DefaultConfigRedisKey        = "medigate:session"
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// UpstreamConfig holds the Medipanel platform configuration.
type UpstreamConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// AuthConfig describes where the session document is persisted and how the
// request pipeline behaves around it.
type AuthConfig struct {
	// Storage configuration - where the session document lives
	Storage SessionStorageType `json:"storage" validate:"required,oneof=file keyring redis memory"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to the session document
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: account identifier
	RedisAddr   string `json:"redis_addr,omitempty"`   // For redis storage: host:port
	RedisDB     int    `json:"redis_db,omitempty"`     // For redis storage: database number
	RedisKey    string `json:"redis_key,omitempty"`    // For redis storage: document key

	// DeviceFile is where the device identity used for session binding is
	// persisted. Binding applies to file and keyring storage only.
	DeviceFile string `json:"device_file,omitempty"`
	// DisableDeviceBinding turns the binding check off entirely.
	DisableDeviceBinding bool `json:"disable_device_binding,omitempty"`

	// RefreshLeadTime is how long before the access token's expiry a
	// proactive refresh starts.
	RefreshLeadTime time.Duration `json:"refresh_lead_time"`
	// RequestTimeout bounds each forwarded call, the refresh exchange included.
	RequestTimeout time.Duration `json:"request_timeout"`

	// PublicRoutes lists extra path patterns that are forwarded without
	// authentication. The platform's own auth endpoints are always public.
	// A pattern ending in "/*" matches everything under the prefix.
	PublicRoutes []string `json:"public_routes,omitempty"`
}

// NewCredentialStore creates the session store from the authentication
// configuration.
func (a *AuthConfig) NewCredentialStore() (*credstore.Store, error) {
	var backend credstore.Backend
	switch a.Storage {
	case SessionStorageFile:
		b, err := credstore.NewFileBackend(a.File)
		if err != nil {
			return nil, err
		}
		backend = b
	case SessionStorageKeyring:
		b, err := credstore.NewKeyringBackend(keyringService, a.KeyringUser)
		if err != nil {
			return nil, err
		}
		backend = b
	case SessionStorageRedis:
		client := redis.NewClient(&redis.Options{Addr: a.RedisAddr, DB: a.RedisDB})
		b, err := credstore.NewRedisBackend(client, a.RedisKey)
		if err != nil {
			return nil, err
		}
		backend = b
	case SessionStorageMemory:
		backend = credstore.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}

	id, err := a.deviceID()
	if err != nil {
		return nil, fmt.Errorf("resolving device identity: %w", err)
	}
	var opts []credstore.StoreOption
	if id != "" {
		opts = append(opts, credstore.WithDeviceID(id))
	}
	return credstore.NewStore(backend, opts...)
}

// deviceID resolves the identity sessions are bound to. Redis storage is
// shared across devices on purpose and memory storage dies with the process,
// so both skip binding.
func (a *AuthConfig) deviceID() (string, error) {
	if a.DisableDeviceBinding || a.DeviceFile == "" {
		return "", nil
	}
	switch a.Storage {
	case SessionStorageFile, SessionStorageKeyring:
		return credstore.DeviceIdentity(a.DeviceFile)
	default:
		return "", nil
	}
}

// Routes returns the pipeline's route classes: the platform's auth endpoints
// plus any configured public paths.
func (a *AuthConfig) Routes() pipeline.Routes {
	routes := pipeline.DefaultRoutes()
	routes.Public = append(routes.Public, a.PublicRoutes...)
	return routes
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level     `json:"log_level"`
	LogFormat LogFormat      `json:"log_format" validate:"oneof=text json"`
	Server    ServerConfig   `json:"server"`
	Shutdown  ShutdownConfig `json:"shutdown"`
	Upstream  UpstreamConfig `json:"upstream"`
	Auth      AuthConfig     `json:"auth"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultConfigUpstreamBaseURL
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Auth.RefreshLeadTime == 0 {
		c.Auth.RefreshLeadTime = pipeline.DefaultLeadTime
	}
	if c.Auth.RequestTimeout == 0 {
		c.Auth.RequestTimeout = pipeline.DefaultRequestTimeout
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case SessionStorageFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "medigate", "session")
		}
	case SessionStorageKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case SessionStorageRedis:
		if c.Auth.RedisAddr == "" {
			c.Auth.RedisAddr = DefaultConfigRedisAddr
		}
		if c.Auth.RedisKey == "" {
			c.Auth.RedisKey = DefaultConfigRedisKey
		}
	case SessionStorageMemory:
		// Nothing to resolve; the session dies with the process.
	}

	// Device binding defaults next to the session file for the storage types
	// it applies to.
	if !c.Auth.DisableDeviceBinding && c.Auth.DeviceFile == "" {
		switch c.Auth.Storage {
		case SessionStorageFile:
			c.Auth.DeviceFile = filepath.Join(filepath.Dir(c.Auth.File), "device")
		case SessionStorageKeyring:
			configDir, err := os.UserConfigDir()
			if err == nil {
				c.Auth.DeviceFile = filepath.Join(configDir, "medigate", "device")
			}
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case SessionStorageFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case SessionStorageKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case SessionStorageRedis:
		if c.Auth.RedisAddr == "" {
			return errors.New("redis_addr required for redis storage")
		}
		if c.Auth.RedisKey == "" {
			return errors.New("redis_key required for redis storage")
		}
	}

	if c.Auth.RefreshLeadTime < 0 {
		return fmt.Errorf("refresh_lead_time must not be negative, got %s", c.Auth.RefreshLeadTime)
	}
	if c.Auth.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.Auth.RequestTimeout)
	}

	return nil
}
