// Package config handles configuration loading, validation, and management for storyteller.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// StateDirName is the directory inside a project that holds its history,
// configuration and lock file.
const StateDirName = ".storyteller"

// Config holds the complete project configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Project identification.
	Project ProjectConfig `toml:"project" json:"project" yaml:"project"`

	// Capture configuration for recording changes.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Storage configuration for the event history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Playback configuration.
	Playback PlaybackConfig `toml:"playback" json:"playback" yaml:"playback"`

	// Reconcile configuration for resuming after a capture gap.
	Reconcile ReconcileConfig `toml:"reconcile" json:"reconcile" yaml:"reconcile"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ProjectConfig identifies the project.
type ProjectConfig struct {
	// Name is a display name; it defaults to the root directory's name.
	Name string `toml:"name" json:"name" yaml:"name"`
}

// CaptureConfig holds capture configuration.
type CaptureConfig struct {
	// WindowMs is the time in milliseconds within which a create and a
	// delete notification are paired into a move or rename.
	WindowMs int `toml:"window_ms" json:"window_ms" yaml:"window_ms"`

	// SaveMarkerIntervalSec is the interval between automatic save markers.
	// Set to 0 to disable them.
	SaveMarkerIntervalSec int `toml:"save_marker_interval_sec" json:"save_marker_interval_sec" yaml:"save_marker_interval_sec"`

	// Ignore holds glob patterns for paths that are never recorded.
	Ignore []string `toml:"ignore" json:"ignore" yaml:"ignore"`

	// Watch enables file system notifications while capturing.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the backend: "sqlite", "wal", "postgres" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the database or journal file. A relative path is resolved
	// against the project's state directory.
	Path string `toml:"path" json:"path" yaml:"path"`

	// DSN is the postgres connection string.
	DSN string `toml:"dsn" json:"dsn" yaml:"dsn"`
}

// PlaybackConfig holds playback configuration.
type PlaybackConfig struct {
	// SkipIrrelevant starts playback after the leading never-relevant setup
	// events.
	SkipIrrelevant bool `toml:"skip_irrelevant" json:"skip_irrelevant" yaml:"skip_irrelevant"`
}

// ReconcileConfig holds the policies used when a prompt is not answered.
type ReconcileConfig struct {
	Modified  string `toml:"modified" json:"modified" yaml:"modified"`
	Untracked string `toml:"untracked" json:"untracked" yaml:"untracked"`
	Missing   string `toml:"missing" json:"missing" yaml:"missing"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr" or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file"). A relative path is
	// resolved against the state directory.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			WindowMs:              10,
			SaveMarkerIntervalSec: 60,
			Ignore:                DefaultIgnorePatterns(),
			Watch:                 true,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			Path: "events.db",
		},
		Playback: PlaybackConfig{
			SkipIrrelevant: true,
		},
		Reconcile: ReconcileConfig{
			Modified:  "accept-changes",
			Untracked: "create",
			Missing:   "recreate",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   "storyteller.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// StateDir returns the state directory of the project rooted at root.
func StateDir(root string) string {
	return filepath.Join(root, StateDirName)
}

// ConfigPath returns the project's configuration file path.
func ConfigPath(root string) string {
	return filepath.Join(StateDir(root), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Window returns the move/rename pairing window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Capture.WindowMs) * time.Millisecond
}

// SaveMarkerInterval returns the automatic save marker interval, 0 when off.
func (c *Config) SaveMarkerInterval() time.Duration {
	return time.Duration(c.Capture.SaveMarkerIntervalSec) * time.Second
}

// StoragePath resolves the storage path for the project rooted at root.
func (c *Config) StoragePath(root string) string {
	return resolve(StateDir(root), c.Storage.Path)
}

// LogPath resolves the log file path for the project rooted at root.
func (c *Config) LogPath(root string) string {
	return resolve(StateDir(root), c.Logging.FilePath)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// EnsureDirectories creates the state directory of the project.
func (c *Config) EnsureDirectories(root string) error {
	dirs := []string{StateDir(root)}
	if c.Storage.Type == "sqlite" || c.Storage.Type == "wal" {
		dirs = append(dirs, filepath.Dir(c.StoragePath(root)))
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.LogPath(root)))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with STORYTELLER_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	// Storage overrides
	if v := os.Getenv("STORYTELLER_STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv("STORYTELLER_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	// Connection strings from env keep credentials out of the file.
	if v := os.Getenv("STORYTELLER_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}

	// Capture overrides
	if v := os.Getenv("STORYTELLER_CAPTURE_WINDOW_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Capture.WindowMs = ms
		}
	}

	// Logging overrides
	if v := os.Getenv("STORYTELLER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STORYTELLER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("STORYTELLER_LOG_PATH"); v != "" {
		c.Logging.Output = "file"
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Capture.Ignore = append([]string{}, c.Capture.Ignore...)
	return &clone
}

// SaveConfig writes cfg to path in the format named by its extension.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	case ".json":
		data, err = encodeJSON(cfg)
	default:
		data, err = encodeTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

func encodeTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJSON(cfg *Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
