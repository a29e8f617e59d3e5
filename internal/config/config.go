// Package config provides configuration management for the reelforge client.
// Configuration is loaded once at startup from an optional .env file, an
// optional config file and REELFORGE_* environment variables, then treated as
// immutable for the lifetime of the process.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultAPIBaseURL    = "http://127.0.0.1:8000"
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".reelforge"
	DefaultHTTPTimeout   = 60 * time.Second
	DefaultMode          = "videos"
	DefaultDevServerPort = 8000
	DefaultDevServerStep = 2 * time.Second

	// Environment variable names
	EnvPrefix     = "REELFORGE"
	EnvConfigFile = "REELFORGE_CONFIG"
	EnvAPIBaseURL = "REELFORGE_API_BASE_URL"
	EnvLogLevel   = "REELFORGE_LOG_LEVEL"
	EnvDataDir    = "REELFORGE_DATA_DIR"

	// Database filename
	DBFilename = "reelforge.db"

	// Log file used while a TUI owns the terminal
	LogFilename = "reelforge.log"
)

// Config defines the application configuration interface
type Config interface {
	APIBaseURL() string
	LogLevel() string
	DataDir() string
	DBPath() string
	LogPath() string
	HTTPTimeout() time.Duration
	DefaultVoice() string
	DefaultMode() string
	Headless() bool
	DevServerPort() int
	DevServerStep() time.Duration
}

// EnvConfig is the immutable configuration snapshot built by New.
type EnvConfig struct {
	apiBaseURL    string
	logLevel      string
	dataDir       string
	httpTimeout   time.Duration
	defaultVoice  string
	defaultMode   string
	headless      bool
	devServerPort int
	devServerStep time.Duration
}

// New creates an EnvConfig with defaults, config file values and environment
// variable overrides, in increasing priority.
func New() (*EnvConfig, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("api_base_url", DefaultAPIBaseURL)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("http_timeout", DefaultHTTPTimeout)
	v.SetDefault("default_voice", "")
	v.SetDefault("default_mode", DefaultMode)
	v.SetDefault("headless", false)
	v.SetDefault("devserver_port", DefaultDevServerPort)
	v.SetDefault("devserver_step", DefaultDevServerStep)

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dd := os.Getenv(EnvDataDir); dd != "" {
			v.AddConfigPath(dd)
		}
		v.AddConfigPath(defaultDataDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	base, err := normalizeBaseURL(v.GetString("api_base_url"))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvAPIBaseURL, err)
	}

	port := v.GetInt("devserver_port")
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid devserver_port: port must be between 1 and 65535")
	}

	timeout := v.GetDuration("http_timeout")
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	step := v.GetDuration("devserver_step")
	if step <= 0 {
		step = DefaultDevServerStep
	}

	return &EnvConfig{
		apiBaseURL:    base,
		logLevel:      v.GetString("log_level"),
		dataDir:       v.GetString("data_dir"),
		httpTimeout:   timeout,
		defaultVoice:  v.GetString("default_voice"),
		defaultMode:   v.GetString("default_mode"),
		headless:      v.GetBool("headless"),
		devServerPort: port,
		devServerStep: step,
	}, nil
}

// APIBaseURL returns the remote generation API base URL without a trailing slash
func (c *EnvConfig) APIBaseURL() string {
	return c.apiBaseURL
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// LogPath returns the log file used by interactive commands
func (c *EnvConfig) LogPath() string {
	return filepath.Join(c.dataDir, LogFilename)
}

func (c *EnvConfig) HTTPTimeout() time.Duration {
	return c.httpTimeout
}

func (c *EnvConfig) DefaultVoice() string {
	return c.defaultVoice
}

func (c *EnvConfig) DefaultMode() string {
	if c.defaultMode == "" {
		return DefaultMode
	}
	return c.defaultMode
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) DevServerPort() int {
	return c.devServerPort
}

func (c *EnvConfig) DevServerStep() time.Duration {
	return c.devServerStep
}

// normalizeBaseURL trims trailing slashes and requires an absolute http(s) URL.
func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultAPIBaseURL, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// BuildInfo formats the version line printed by `reelforge version`.
func BuildInfo() string {
	return fmt.Sprintf("reelforge %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
