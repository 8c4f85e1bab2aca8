package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// SecurityConfig configures the security gate.
type SecurityConfig struct {
	// Level is one of strict, normal, permissive.
	Level string `mapstructure:"level"`

	// PatternFile is the path to the versioned pattern definitions.
	// Empty means use the built-in default pattern set.
	PatternFile string `mapstructure:"pattern_file"`

	// HotReload watches the pattern file and reloads it on change.
	HotReload bool `mapstructure:"hot_reload"`

	// AuditDir is where append-only audit records are written.
	// Empty means use the default data directory.
	AuditDir string `mapstructure:"audit_dir"`

	// AuditRetentionDays is how long audit records are retained.
	AuditRetentionDays int `mapstructure:"audit_retention_days"`
}

// InferenceConfig configures the local model endpoint.
type InferenceConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	ModelVersion       string  `mapstructure:"model_version"`
	UnitTimeoutSeconds int     `mapstructure:"unit_timeout_seconds"`
	Temperature        float64 `mapstructure:"temperature"`
	TopP               float64 `mapstructure:"top_p"`
	MaxTokens          int     `mapstructure:"max_tokens"`
}

// MemoryConfig configures the memory pressure monitor.
type MemoryConfig struct {
	// CapBytes is the memory budget the monitor measures against.
	// Zero means use detected total system RAM.
	CapBytes int64 `mapstructure:"cap_bytes"`

	// WarningFraction and CriticalFraction are thresholds against the cap.
	WarningFraction  float64 `mapstructure:"warning_fraction"`
	CriticalFraction float64 `mapstructure:"critical_fraction"`
}

// Config represents the application configuration.
type Config struct {
	// PoolSize overrides the hardware-derived connection pool size.
	// Zero means derive from the detected hardware tier.
	PoolSize int `mapstructure:"pool_size"`

	// CachePath is the result cache database path.
	// Empty means use the default data directory.
	CachePath string `mapstructure:"cache_path"`

	// PerfPath is the performance journal database path.
	// Empty means use the default data directory.
	PerfPath string `mapstructure:"perf_path"`

	Security  SecurityConfig  `mapstructure:"security"`
	Inference InferenceConfig `mapstructure:"inference"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/mailsift/config.yaml
//   - $HOME/.config/mailsift/config.yaml
//
// Environment variables are prefixed with MAILSIFT_ (e.g., MAILSIFT_POOL_SIZE).
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration like Load but reads the given file instead
// of searching the standard locations. An empty path means search.
func LoadFrom(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "mailsift"))
		}

		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "mailsift"))
	}

	v.SetEnvPrefix("MAILSIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is acceptable; we use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand ~ in user-supplied paths
	for _, p := range []*string{&cfg.CachePath, &cfg.PerfPath, &cfg.Security.PatternFile, &cfg.Security.AuditDir} {
		expanded, expandErr := ExpandPath(*p)
		if expandErr != nil {
			return nil, expandErr
		}
		*p = expanded
	}

	return &cfg, nil
}

// setDefaults registers the default value cascade on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool_size", 0)
	v.SetDefault("cache_path", "")
	v.SetDefault("perf_path", "")

	v.SetDefault("security.level", DefaultSecurityLevel)
	v.SetDefault("security.pattern_file", "")
	v.SetDefault("security.hot_reload", true)
	v.SetDefault("security.audit_dir", "")
	v.SetDefault("security.audit_retention_days", DefaultAuditRetentionDays)

	v.SetDefault("inference.base_url", DefaultInferenceURL)
	v.SetDefault("inference.model_version", DefaultModelVersion)
	v.SetDefault("inference.unit_timeout_seconds", DefaultUnitTimeoutSeconds)
	v.SetDefault("inference.temperature", 0.2)
	v.SetDefault("inference.top_p", 0.9)
	v.SetDefault("inference.max_tokens", 512)

	v.SetDefault("memory.cap_bytes", 0)
	v.SetDefault("memory.warning_fraction", DefaultMemoryWarningFraction)
	v.SetDefault("memory.critical_fraction", DefaultMemoryCriticalFraction)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"engine":   "info",
		"dispatch": "info",
		"gate":     "info",
		"cache":    "warn",
		"memwatch": "warn",
	})
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "mailsift"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "mailsift"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// WriteDefault writes a default config file if none exists.
// Returns nil if a config file already exists.
func WriteDefault() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configDir, err := ConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.yaml")

	// Check if config file already exists
	if _, err := os.Stat(configPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# Mailsift Analysis Engine Configuration

# Connection pool size override (0 = derive from detected hardware)
pool_size: 0

# Result cache database path (empty means $XDG_DATA_HOME/mailsift/cache.db)
cache_path: ""

# Performance journal path (empty means $XDG_DATA_HOME/mailsift/perf.db)
perf_path: ""

# Security gate settings
security:
  # Gate level: strict, normal, permissive
  level: %s
  # Pattern definitions file (empty means built-in defaults)
  pattern_file: ""
  # Reload the pattern file when it changes on disk
  hot_reload: true
  # Audit record directory (empty means $XDG_DATA_HOME/mailsift/audit)
  audit_dir: ""
  audit_retention_days: %d

# Local inference endpoint
inference:
  base_url: %s
  model_version: %s
  unit_timeout_seconds: %d
  temperature: 0.2
  top_p: 0.9
  max_tokens: 512

# Memory pressure monitor
memory:
  # Memory budget in bytes (0 = detected total system RAM)
  cap_bytes: 0
  warning_fraction: %.2f
  critical_fraction: %.2f

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/mailsift/mailsift.log)
  path: ""
  # Log rotation settings
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
    engine: info
    dispatch: info
    gate: info
    cache: warn
    memwatch: warn
`, DefaultSecurityLevel, DefaultAuditRetentionDays, DefaultInferenceURL,
		DefaultModelVersion, DefaultUnitTimeoutSeconds,
		DefaultMemoryWarningFraction, DefaultMemoryCriticalFraction)

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/mailsift/ for databases and audit records.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "mailsift")
}

// StateDir returns $XDG_STATE_HOME/mailsift/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "mailsift")
}

// DefaultCachePath returns the default result cache database path.
func DefaultCachePath() string {
	return filepath.Join(DataDir(), "cache.db")
}

// DefaultPerfPath returns the default performance journal path.
func DefaultPerfPath() string {
	return filepath.Join(DataDir(), "perf.db")
}

// DefaultAuditDir returns the default audit record directory.
func DefaultAuditDir() string {
	return filepath.Join(DataDir(), "audit")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "mailsift.log")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// EnsureStateDir creates the state directory if it doesn't exist.
func EnsureStateDir() error {
	if err := os.MkdirAll(StateDir(), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return nil
}
