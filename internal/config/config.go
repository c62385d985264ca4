// Package config defines the TOML configuration for the probe client and
// the reference responder, with loading, defaulting and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel defines the minimum severity for logs.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat selects the log output encoding.
type LogFormat string

const (
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatConsole emits human-readable output.
	LogFormatConsole LogFormat = "console"
)

// Config is the top-level configuration structure. Optional values are
// pointers so "absent" and "zero" stay distinguishable; ApplyDefaults fills
// in the blanks.
type Config struct {
	Server  *ServerConfig  `toml:"server,omitempty"`
	Client  *ClientConfig  `toml:"client,omitempty"`
	Logging *LoggingConfig `toml:"logging,omitempty"`
}

// ServerConfig holds the reference responder's settings.
type ServerConfig struct {
	// Listen is the UDP address to bind, e.g. ":4433".
	Listen *string `toml:"listen,omitempty"`
	// CertFile and KeyFile are PEM paths. When both are empty a self-signed
	// certificate is generated at startup.
	CertFile *string `toml:"cert_file,omitempty"`
	KeyFile  *string `toml:"key_file,omitempty"`
	// StaticBody is the body served for GET /.
	StaticBody *string `toml:"static_body,omitempty"`
	// EchoPath is the path whose request body is echoed back.
	EchoPath *string `toml:"echo_path,omitempty"`
	// MaxRequestStreams bounds concurrent request streams per connection.
	MaxRequestStreams *int `toml:"max_request_streams,omitempty"`
	// MaxConnections bounds concurrently served connections; excess
	// connections are refused with an explicit close.
	MaxConnections *int `toml:"max_connections,omitempty"`
}

// ClientConfig holds the probe's settings.
type ClientConfig struct {
	// ObserveTimeout is how long to wait for the target's reaction,
	// e.g. "3s".
	ObserveTimeout *string `toml:"observe_timeout,omitempty"`
	// Insecure skips TLS certificate verification.
	Insecure *bool `toml:"insecure,omitempty"`
	// CAFile is a PEM bundle of additional trusted roots.
	CAFile *string `toml:"ca_file,omitempty"`
}

// LoggingConfig holds logging settings shared by both commands.
type LoggingConfig struct {
	Level  *LogLevel  `toml:"level,omitempty"`
	Format *LogFormat `toml:"format,omitempty"`
}

const (
	defaultListen            = ":4433"
	defaultObserveTimeout    = "3s"
	defaultMaxRequestStreams = 32
	defaultMaxConnections    = 64
)

// Default returns a fully populated configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig reads and validates a TOML configuration file, applying
// defaults for everything the file leaves out.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Listen == nil {
		c.Server.Listen = strPtr(defaultListen)
	}
	if c.Server.CertFile == nil {
		c.Server.CertFile = strPtr("")
	}
	if c.Server.KeyFile == nil {
		c.Server.KeyFile = strPtr("")
	}
	if c.Server.StaticBody == nil {
		c.Server.StaticBody = strPtr("")
	}
	if c.Server.EchoPath == nil {
		c.Server.EchoPath = strPtr("/echo")
	}
	if c.Server.MaxRequestStreams == nil {
		n := defaultMaxRequestStreams
		c.Server.MaxRequestStreams = &n
	}
	if c.Server.MaxConnections == nil {
		n := defaultMaxConnections
		c.Server.MaxConnections = &n
	}

	if c.Client == nil {
		c.Client = &ClientConfig{}
	}
	if c.Client.ObserveTimeout == nil {
		c.Client.ObserveTimeout = strPtr(defaultObserveTimeout)
	}
	if c.Client.Insecure == nil {
		b := false
		c.Client.Insecure = &b
	}
	if c.Client.CAFile == nil {
		c.Client.CAFile = strPtr("")
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == nil {
		lvl := LogLevelInfo
		c.Logging.Level = &lvl
	}
	if c.Logging.Format == nil {
		f := LogFormatJSON
		c.Logging.Format = &f
	}
}

// Validate checks a defaulted configuration for consistency.
func (c *Config) Validate() error {
	if _, err := c.ObserveTimeout(); err != nil {
		return err
	}
	switch *c.Logging.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("logging.level: unknown level %q", *c.Logging.Level)
	}
	switch *c.Logging.Format {
	case LogFormatJSON, LogFormatConsole:
	default:
		return fmt.Errorf("logging.format: unknown format %q", *c.Logging.Format)
	}
	if (*c.Server.CertFile == "") != (*c.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}
	if *c.Server.MaxRequestStreams <= 0 {
		return fmt.Errorf("server.max_request_streams must be positive, got %d", *c.Server.MaxRequestStreams)
	}
	if *c.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be positive, got %d", *c.Server.MaxConnections)
	}
	return nil
}

// ObserveTimeout parses the client observation window.
func (c *Config) ObserveTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(*c.Client.ObserveTimeout)
	if err != nil {
		return 0, fmt.Errorf("client.observe_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("client.observe_timeout must be positive, got %s", d)
	}
	return d, nil
}

func strPtr(s string) *string { return &s }
