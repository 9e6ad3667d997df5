package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon and CLI configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Daemon
	Host        string `envconfig:"HOST" default:"127.0.0.1"`
	Port        int    `envconfig:"PORT" default:"3100"`
	DBPath      string `envconfig:"DB_PATH" default:"data/clnode.db"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"` // comma-separated, empty disables CORS

	// TranscriptDelay is how long SubagentStop waits for the transcript writer to settle.
	TranscriptDelay time.Duration `envconfig:"TRANSCRIPT_DELAY" default:"500ms"`

	// Retention is the age after which raw events and activity rows are
	// pruned. Zero keeps everything.
	Retention time.Duration `envconfig:"RETENTION" default:"0"`

	// ConfigFile points at an optional YAML overlay (ranker limits, hook tools).
	ConfigFile string `envconfig:"CONFIG_FILE"`

	// CLI
	URL string `envconfig:"URL" default:"http://localhost:3100"`

	// File is the parsed overlay. Zero value when ConfigFile is empty.
	File FileConfig `ignored:"true"`
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsDevelopment reports whether human-readable console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed allow list. Nil when not configured.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Load reads configuration from CLNODE_* environment variables and, when
// CLNODE_CONFIG_FILE is set, the YAML overlay it names.
func Load() (*Config, error) {
	return LoadWithPrefix("CLNODE")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if cfg.TranscriptDelay < 0 {
		return nil, fmt.Errorf("loading config: transcript delay must not be negative")
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("loading config: retention must not be negative")
	}
	if cfg.ConfigFile != "" {
		fc, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.File = *fc
	}
	return &cfg, nil
}
