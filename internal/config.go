package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/otomatty/zedi-sub000/internal/codec"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Auth modes.
const (
	AuthModeToken = "token"
	AuthModeJWKS  = "jwks"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	Postgres PostgresConfig    `yaml:"postgres"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	CORS     CORSConfig        `yaml:"cors"`
	Content  ContentConfig     `yaml:"content"`
	Sync     SyncConfig        `yaml:"sync"`
	Media    MediaConfig       `yaml:"media"`
	Vault    VaultConfig       `yaml:"vault"`
}

// Validate validates the sections every command shares. Command-specific
// sections are checked by ValidateServer, SyncConfig.Validate and
// VaultConfig.Validate.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	return nil
}

// ValidateServer validates the sections the serve command needs.
func (c *Config) ValidateServer() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	case StoreDriverSQLite:
		if err := c.SQLite.Validate(); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Media.Enabled() {
		if err := c.Media.Validate(); err != nil {
			return fmt.Errorf("media: %w", err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

// StoreConfig selects the server store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(StoreDriverPostgres, StoreDriverSQLite)),
	)
}

// PostgresConfig holds the server-of-record connection.
type PostgresConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// Validate validates the Postgres configuration.
func (c *PostgresConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration. Path is the server
// database with the sqlite driver; MirrorPath is the client Local Mirror.
type SQLiteConfig struct {
	Path       string `yaml:"path"`
	MirrorPath string `yaml:"mirror_path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how bearer tokens are verified:
//   - "token": a single shared Token mapped to Subject.
//   - "jwks": JWTs checked against the keys at JWKSURL.
type AuthConfig struct {
	Mode          string `yaml:"mode"`
	Token         string `yaml:"token"`
	Subject       string `yaml:"subject"`
	JWKSURL       string `yaml:"jwks_url"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	AutoProvision bool   `yaml:"auto_provision"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeToken
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeToken, AuthModeJWKS)),
	); err != nil {
		return err
	}
	switch c.Mode {
	case AuthModeToken:
		if c.Token == "" {
			return errors.New("mode is \"token\" but token is empty")
		}
		if c.Subject == "" {
			c.Subject = "local"
		}
	case AuthModeJWKS:
		if c.JWKSURL == "" {
			return errors.New("mode is \"jwks\" but jwks_url is empty")
		}
	}
	return nil
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ContentConfig controls the document-content channel.
type ContentConfig struct {
	Compression string `yaml:"compression"`
	MaxBytes    int64  `yaml:"max_bytes"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Compression, validation.In(codec.None, codec.LZ4, codec.Brotli)),
		validation.Field(&c.MaxBytes, validation.Required, validation.Min(int64(1))),
	)
}

// SyncConfig configures the client sync daemon.
type SyncConfig struct {
	ServerURL      string        `yaml:"server_url"`
	Token          string        `yaml:"token"`
	Schedule       string        `yaml:"schedule"`
	Overlap        time.Duration `yaml:"overlap"`
	ContentWorkers int           `yaml:"content_workers"`
}

// Remote reports whether a sync server is configured.
func (c *SyncConfig) Remote() bool {
	return c.ServerURL != ""
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ServerURL, validation.Required),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Schedule, validation.Required),
		validation.Field(&c.Overlap, validation.Min(time.Duration(0))),
		validation.Field(&c.ContentWorkers, validation.Min(0)),
	)
}

// MediaConfig holds the media upload area. An empty Path disables media.
type MediaConfig struct {
	Path    string `yaml:"path"`
	BaseURL string `yaml:"base_url"`
	// PendingTTL is how long an unconfirmed upload survives.
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// Validate validates the media configuration.
func (c *MediaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PendingTTL, validation.Required, validation.Min(time.Minute)),
	)
}

// Enabled reports whether media routes are mounted.
func (c *MediaConfig) Enabled() bool {
	return c.Path != ""
}

// VaultConfig holds the Markdown vault imported by the import command.
type VaultConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:            8080,
				ShutdownTimeout: 10 * time.Second,
			},
		},
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
		},
		Postgres: PostgresConfig{
			Migrate: true,
		},
		SQLite: SQLiteConfig{
			Path:       "./zedi.db",
			MirrorPath: "./zedi-mirror.db",
		},
		Auth: AuthConfig{
			Mode:          AuthModeToken,
			Subject:       "local",
			AutoProvision: true,
		},
		Content: ContentConfig{
			Compression: codec.LZ4,
			MaxBytes:    10 << 20,
		},
		Sync: SyncConfig{
			Schedule:       "@every 1m",
			Overlap:        5 * time.Second,
			ContentWorkers: 4,
		},
		Media: MediaConfig{
			BaseURL:    "/media",
			PendingTTL: 24 * time.Hour,
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
	}
}
