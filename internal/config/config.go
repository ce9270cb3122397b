package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/user/handoff/internal/sweeper"
)

type Config struct {
	DataDir      string `json:"data_dir"`
	LogLevel     string `json:"log_level"`
	SnapshotFile string `json:"snapshot_file"`
	// ArtifactRoot resolves relative artifact references when sizing them.
	ArtifactRoot string `json:"artifact_root"`
	Expiration   struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
	} `json:"expiration"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
}

// DefaultPath returns ~/.handoff/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".handoff", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:      filepath.Join(os.Getenv("HOME"), ".handoff"),
		LogLevel:     "info",
		SnapshotFile: "transfers.json",
	}
	cfg.Expiration.Schedule = sweeper.DefaultSchedule
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8787"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("HANDOFF_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("HANDOFF_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if v := os.Getenv("HANDOFF_EXPIRATION_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("HANDOFF_EXPIRATION_ENABLED: %w", err)
		}
		cfg.Expiration.Enabled = enabled
	}

	return cfg, nil
}

// SnapshotPath is where the transfer snapshot lives. A relative
// snapshot_file is resolved against data_dir.
func (c *Config) SnapshotPath() string {
	if filepath.IsAbs(c.SnapshotFile) {
		return c.SnapshotFile
	}
	return filepath.Join(c.DataDir, c.SnapshotFile)
}

// Level is the slog level named by log_level. Empty means info.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Validate checks the values a daemon would otherwise only reject at
// startup.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := sweeper.ParseSchedule(c.Expiration.Schedule); err != nil {
		return fmt.Errorf("expiration.schedule %q: %w", c.Expiration.Schedule, err)
	}
	return nil
}

// PIDPath is the daemon's PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "handoff.pid")
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map keyed by JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as a flat map with dot-separated keys.
func ListValues(cfg *Config) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	return Flatten(m), nil
}

// GetValue loads the config at path and returns the value at a
// dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg)
	if err != nil {
		return nil, err
	}
	// Keys set with SetValue that the struct does not know about still live
	// in the file.
	if raw, err := readRaw(path); err == nil {
		for k, v := range Flatten(raw) {
			if _, ok := flat[k]; !ok {
				flat[k] = v
			}
		}
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dot-separated key in the config file at path. The value is
// stored as JSON if it parses as JSON (numbers, booleans) and as a string
// otherwise. The file must already exist, and the result must pass
// Validate or the file is left untouched.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(raw)
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// The file must still decode into a Config the daemon can start with.
	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	return raw, nil
}
