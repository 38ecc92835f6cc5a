// Package config loads the pairlink daemon configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/pairlink-go/internal/coordinator"
	"github.com/rmacdonaldsmith/pairlink-go/internal/transport"
)

// EnvPrefix prefixes every environment override, e.g. PAIRLINK_PEER_ADDRESS
const EnvPrefix = "PAIRLINK"

var (
	// ErrInvalidLogLevel is returned for an unknown log.level
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidJournalBackend is returned for an unknown journal.backend
	ErrInvalidJournalBackend = errors.New("invalid journal backend")
	// ErrMissingAPISecret is returned when the admin API has auth enabled but no secret
	ErrMissingAPISecret = errors.New("api.secret_key is required when authentication is enabled")
	// ErrMissingLoginSecret is returned when the admin API has auth enabled but no login credential
	ErrMissingLoginSecret = errors.New("api.login_secret is required when authentication is enabled")
)

// Config is the root daemon configuration
type Config struct {
	Listen  ListenConfig  `mapstructure:"listen"`
	Peer    PeerConfig    `mapstructure:"peer"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Link    LinkConfig    `mapstructure:"link"`
	Log     LogConfig     `mapstructure:"log"`
	API     APIConfig     `mapstructure:"api"`
	Journal JournalConfig `mapstructure:"journal"`
}

// ListenConfig is the local listener endpoint
type ListenConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// PeerConfig points the connector at the peer and restricts who may connect to the listener
type PeerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	// Permitted defaults to Address
	Permitted []string `mapstructure:"permitted"`
}

// TLSConfig enables TLS on both links when CertificateFile is set
type TLSConfig struct {
	CertificateFile           string `mapstructure:"certificate_file"`
	CertificatePassword       string `mapstructure:"certificate_password"`
	AcceptInvalidCertificates bool   `mapstructure:"accept_invalid_certificates"`
	MutuallyAuthenticate      bool   `mapstructure:"mutually_authenticate"`
}

// LinkConfig tunes the link behaviour
type LinkConfig struct {
	PresharedKey         string        `mapstructure:"psk"`
	ReadStreamBufferSize int           `mapstructure:"read_stream_buffer_size"`
	RetryInterval        time.Duration `mapstructure:"retry_interval"`
	DebounceWindow       time.Duration `mapstructure:"debounce_window"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
}

// LogConfig defines logger settings
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// APIConfig configures the admin HTTP API
type APIConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	SecretKey string `mapstructure:"secret_key"`
	// LoginSecret must be presented at login to obtain a token
	LoginSecret string `mapstructure:"login_secret"`
	// NoAuth bypasses authentication on non-admin endpoints
	NoAuth bool `mapstructure:"no_auth"`
	// AdminClients are client ids granted admin tokens at login
	AdminClients []string `mapstructure:"admin_clients"`
}

// JournalConfig selects the journal backend
type JournalConfig struct {
	// Backend: memory or sqlite
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 9000},
		Peer:   PeerConfig{Port: 9000},
		Link: LinkConfig{
			RetryInterval:  coordinator.DefaultRetryInterval,
			DebounceWindow: coordinator.DefaultDebounceWindow,
			ConnectTimeout: transport.DefaultConnectTimeout,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Filename:   "logs/pairlink.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1:8080",
			AdminClients: []string{"admin"},
		},
		Journal: JournalConfig{
			Backend:    "memory",
			Path:       "data/journal.db",
			MaxEntries: 10000,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from pairlink.yaml in
// common locations. Environment variables override file values using the PAIRLINK
// prefix with `.` and `-` replaced by `_`, e.g. PAIRLINK_LINK_PSK.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pairlink")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pairlink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// viper only resolves environment overrides for keys it knows about
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("listen.address", cfg.Listen.Address)
	v.SetDefault("listen.port", cfg.Listen.Port)
	v.SetDefault("peer.address", cfg.Peer.Address)
	v.SetDefault("peer.port", cfg.Peer.Port)
	v.SetDefault("peer.permitted", []string{})
	v.SetDefault("tls.certificate_file", cfg.TLS.CertificateFile)
	v.SetDefault("tls.certificate_password", cfg.TLS.CertificatePassword)
	v.SetDefault("tls.accept_invalid_certificates", cfg.TLS.AcceptInvalidCertificates)
	v.SetDefault("tls.mutually_authenticate", cfg.TLS.MutuallyAuthenticate)
	v.SetDefault("link.psk", cfg.Link.PresharedKey)
	v.SetDefault("link.read_stream_buffer_size", cfg.Link.ReadStreamBufferSize)
	v.SetDefault("link.retry_interval", cfg.Link.RetryInterval)
	v.SetDefault("link.debounce_window", cfg.Link.DebounceWindow)
	v.SetDefault("link.connect_timeout", cfg.Link.ConnectTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.address", cfg.API.Address)
	v.SetDefault("api.secret_key", cfg.API.SecretKey)
	v.SetDefault("api.login_secret", cfg.API.LoginSecret)
	v.SetDefault("api.no_auth", cfg.API.NoAuth)
	v.SetDefault("api.admin_clients", cfg.API.AdminClients)
	v.SetDefault("journal.backend", cfg.Journal.Backend)
	v.SetDefault("journal.path", cfg.Journal.Path)
	v.SetDefault("journal.max_entries", cfg.Journal.MaxEntries)
}

// Validate checks the configuration and normalizes enumerations
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Journal.Backend = strings.ToLower(strings.TrimSpace(c.Journal.Backend))
	switch c.Journal.Backend {
	case "", "memory":
		c.Journal.Backend = "memory"
	case "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("%w: sqlite backend needs journal.path", ErrInvalidJournalBackend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidJournalBackend, c.Journal.Backend)
	}

	if c.API.Enabled && !c.API.NoAuth {
		if c.API.SecretKey == "" {
			return ErrMissingAPISecret
		}
		if c.API.LoginSecret == "" {
			return ErrMissingLoginSecret
		}
	}

	return c.NodeConfig(nil).Validate()
}

// NodeConfig builds the coordinator configuration for this daemon
func (c *Config) NodeConfig(logger *zap.Logger) *coordinator.Config {
	nc := coordinator.NewConfig(c.Listen.Address, c.Listen.Port, c.Peer.Address, c.Peer.Port).
		WithPermittedAddresses(c.Peer.Permitted...).
		WithSettings(coordinator.Settings{
			AcceptInvalidCertificates: c.TLS.AcceptInvalidCertificates,
			MutuallyAuthenticate:      c.TLS.MutuallyAuthenticate,
			PresharedKey:              c.Link.PresharedKey,
			ReadStreamBufferSize:      c.Link.ReadStreamBufferSize,
		}).
		WithRetryInterval(c.Link.RetryInterval).
		WithDebounceWindow(c.Link.DebounceWindow).
		WithConnectTimeout(c.Link.ConnectTimeout).
		WithLogger(logger)

	if c.TLS.CertificateFile != "" {
		nc.WithCertificate(c.TLS.CertificateFile, c.TLS.CertificatePassword)
	}
	return nc
}
