// Package config provides YAML-based configuration loading for chatline,
// with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// CHATLINE_SERVER_BASE_URL.
const EnvPrefix = "CHATLINE_"

// Config is the top-level chatline configuration, loaded from chatline.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	LaunchData string           `yaml:"launch_data" env:"LAUNCH_DATA"`
	Connection ConnectionConfig `yaml:"connection" envPrefix:"CONNECTION_"`
	Upload     UploadConfig     `yaml:"upload" envPrefix:"UPLOAD_"`
	DevServer  DevServerConfig  `yaml:"devserver" envPrefix:"DEVSERVER_"`
}

// ServerConfig locates the support backend.
type ServerConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// ConnectionConfig tunes the live channel. Zero values keep the plain
// behaviour: no handshake timeout, no reconnection.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	Reconnect        ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
}

// ReconnectConfig bounds reconnection after an abnormal close.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
}

// UploadConfig tunes the HTTP upload phase.
type UploadConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Port     int            `yaml:"port" env:"PORT"`
	BotToken string         `yaml:"bot_token" env:"BOT_TOKEN"`
	MediaDir string         `yaml:"media_dir" env:"MEDIA_DIR"`
	AIReply  string         `yaml:"ai_reply" env:"AI_REPLY"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
}

// DatabaseConfig selects the dev server's storage.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// Load reads a YAML config file from path, applies environment overrides
// and returns a validated Config. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.Environ())
}

// Parse unmarshals YAML bytes into a validated Config, without environment
// overrides.
func Parse(data []byte) (*Config, error) {
	return parse(data, nil)
}

func parse(data []byte, environ []string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if environ != nil {
		if err := cfg.applyEnv(environ); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays CHATLINE_* variables; unset variables leave the file
// values alone.
func (c *Config) applyEnv(environ []string) error {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Connection.Reconnect.BaseBackoff == 0 {
		c.Connection.Reconnect.BaseBackoff = time.Second
	}
	if c.Connection.Reconnect.MaxBackoff == 0 {
		c.Connection.Reconnect.MaxBackoff = max(30*time.Second, c.Connection.Reconnect.BaseBackoff)
	}
	if c.DevServer.Port == 0 {
		c.DevServer.Port = 8080
	}
	if c.DevServer.MediaDir == "" {
		c.DevServer.MediaDir = "media"
	}
	if c.DevServer.AIReply == "" {
		c.DevServer.AIReply = "Thanks for your message! Our assistant is looking into it."
	}
	if c.DevServer.Database.Driver == "" {
		c.DevServer.Database.Driver = "sqlite"
	}
	if c.DevServer.Database.DSN == "" && c.DevServer.Database.Driver == "sqlite" {
		c.DevServer.Database.DSN = "chatline.db"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("server.base_url %q is not a valid URL", c.Server.BaseURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, "server.base_url must be http or https")
	}
	if c.Connection.HandshakeTimeout < 0 {
		errs = append(errs, "connection.handshake_timeout must not be negative")
	}
	r := c.Connection.Reconnect
	if r.MaxAttempts < 0 {
		errs = append(errs, "connection.reconnect.max_attempts must not be negative")
	}
	if r.MaxBackoff < r.BaseBackoff {
		errs = append(errs, "connection.reconnect.max_backoff must be at least base_backoff")
	}
	if c.Upload.Timeout < 0 {
		errs = append(errs, "upload.timeout must not be negative")
	}
	if c.DevServer.Port < 1 || c.DevServer.Port > 65535 {
		errs = append(errs, fmt.Sprintf("devserver.port %d is out of range", c.DevServer.Port))
	}
	switch c.DevServer.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("devserver.database.driver %q must be sqlite or mysql", c.DevServer.Database.Driver))
	}
	if c.DevServer.Database.DSN == "" {
		errs = append(errs, "devserver.database.dsn is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
