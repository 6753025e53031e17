package config

import (
	"errors"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	DBPath          string   `toml:"db_path"`
	HTTPAddr        string   `toml:"http_addr"`
	LogLevel        string   `toml:"log_level"`
	DayPollSeconds  int      `toml:"day_poll_seconds"`
	VisibleStatuses []string `toml:"visible_statuses"`
}

func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		DayPollSeconds: 60,
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "taskmill", "config.toml"), nil
}

func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// LoadOrCreate reads the config file, writing the defaults first if it does
// not exist yet.
func LoadOrCreate(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.DayPollSeconds <= 0 {
		cfg.DayPollSeconds = 60
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
