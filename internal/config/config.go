// Package config loads daemon and CLI configuration from a YAML file,
// environment variables (KINCARE_ prefix), and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	// DataDir holds the local database, daemon lock, and logs
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	Remote    Remote    `yaml:"remote" mapstructure:"remote"`
	Daemon    Daemon    `yaml:"daemon" mapstructure:"daemon"`
	Dashboard Dashboard `yaml:"dashboard" mapstructure:"dashboard"`
	Calendar  Calendar  `yaml:"calendar" mapstructure:"calendar"`
	Log       Log       `yaml:"log" mapstructure:"log"`
}

// Remote configures the backend store client.
type Remote struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// TokenFile contains the bearer token, one line. Tokens never live in
	// the config file itself.
	TokenFile string `yaml:"token_file" mapstructure:"token_file"`
}

// Daemon configures the background loop intervals.
type Daemon struct {
	DrainInterval    time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	CalendarInterval time.Duration `yaml:"calendar_interval" mapstructure:"calendar_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
}

// Dashboard configures the WebSocket status server.
type Dashboard struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// Calendar configures the calendar sync engine.
type Calendar struct {
	// KeyFile contains the master key for conflict snapshot encryption
	KeyFile string `yaml:"key_file" mapstructure:"key_file"`

	// GoogleTokenFile contains the OAuth access token for the Google
	// Calendar provider
	GoogleTokenFile string `yaml:"google_token_file" mapstructure:"google_token_file"`
}

// Log configures file logging rotation.
type Log struct {
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".kincare")
	return &Config{
		DataDir: dataDir,
		Daemon: Daemon{
			DrainInterval:    15 * time.Second,
			RefreshInterval:  2 * time.Minute,
			CalendarInterval: 5 * time.Minute,
			ProbeInterval:    30 * time.Second,
		},
		Dashboard: Dashboard{
			Enabled: false,
			Port:    8321,
		},
		Log: Log{
			File:       filepath.Join(dataDir, "kincare.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from path. An empty path falls back to
// $HOME/.kincare/config.yaml; a missing file yields the defaults.
// Environment variables override file values (KINCARE_REMOTE_BASE_URL and
// so on).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KINCARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("daemon.drain_interval", def.Daemon.DrainInterval)
	v.SetDefault("daemon.refresh_interval", def.Daemon.RefreshInterval)
	v.SetDefault("daemon.calendar_interval", def.Daemon.CalendarInterval)
	v.SetDefault("daemon.probe_interval", def.Daemon.ProbeInterval)
	v.SetDefault("dashboard.enabled", def.Dashboard.Enabled)
	v.SetDefault("dashboard.port", def.Dashboard.Port)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kincare", "config.yaml")
}

// DatabasePath returns the local SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "kincare.db")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "daemon.lock")
}

// Token reads the bearer token from the configured token file.
func (c *Config) Token() (string, error) {
	if c.Remote.TokenFile == "" {
		return "", fmt.Errorf("remote.token_file is not configured")
	}
	data, err := os.ReadFile(c.Remote.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// MasterKey reads the conflict snapshot key from the configured key file.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Calendar.KeyFile == "" {
		return nil, fmt.Errorf("calendar.key_file is not configured")
	}
	data, err := os.ReadFile(c.Calendar.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return nil, fmt.Errorf("key file %s is empty", c.Calendar.KeyFile)
	}
	return []byte(key), nil
}

// WriteTemplate writes a commented starter config to path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	def := Default()
	tmpl := map[string]interface{}{
		"data_dir": def.DataDir,
		"remote": map[string]interface{}{
			"base_url":   "https://api.example.com",
			"token_file": filepath.Join(def.DataDir, "token"),
		},
		"daemon": map[string]interface{}{
			"drain_interval":    def.Daemon.DrainInterval.String(),
			"refresh_interval":  def.Daemon.RefreshInterval.String(),
			"calendar_interval": def.Daemon.CalendarInterval.String(),
			"probe_interval":    def.Daemon.ProbeInterval.String(),
		},
		"dashboard": map[string]interface{}{
			"enabled": def.Dashboard.Enabled,
			"port":    def.Dashboard.Port,
		},
		"calendar": map[string]interface{}{
			"key_file": filepath.Join(def.DataDir, "conflict.key"),
		},
		"log": map[string]interface{}{
			"file":         def.Log.File,
			"max_size_mb":  def.Log.MaxSizeMB,
			"max_backups":  def.Log.MaxBackups,
			"max_age_days": def.Log.MaxAgeDays,
		},
	}

	out, err := yaml.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to render config template: %w", err)
	}

	header := "# kincare sync configuration.\n# Environment variables with the KINCARE_ prefix override these values.\n"
	return os.WriteFile(path, append([]byte(header), out...), 0o644)
}
