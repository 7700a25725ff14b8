package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	ServerURL             string `json:"server_url"`
	DBPath                string `json:"db_path"`
	LogPath               string `json:"log_path"`
	LogLevel              string `json:"log_level"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	WebEnabled            bool   `json:"web_enabled"`
	WebPort               int    `json:"web_port"`
}

const (
	DefaultServerURL = "http://127.0.0.1:5000"
	DefaultWebPort   = 8080
)

func Default() Config {
	return Config{
		ServerURL:             DefaultServerURL,
		LogLevel:              "info",
		RequestTimeoutSeconds: 15,
		WebPort:               DefaultWebPort,
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tasksync", "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return Config{}, err
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return config, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides file values with TASKSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("TASKSYNC_SERVER")); v != "" {
		c.ServerURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKSYNC_DB")); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKSYNC_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
}

// Resolve fills paths left empty with locations next to the config file.
func (c *Config) Resolve(configPath string) {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(filepath.Dir(configPath), "tasksync.db")
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(filepath.Dir(configPath), "tasksync.log")
	}
	if c.WebPort == 0 {
		c.WebPort = DefaultWebPort
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = Default().RequestTimeoutSeconds
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
