// Package config holds the daemon settings: where to listen, where the
// vision library lives and which release feeds to follow. User-facing
// preferences live in package settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Library  LibraryConfig  `yaml:"library"`
	Updates  UpdatesConfig  `yaml:"updates"`
	Tracking TrackingConfig `yaml:"tracking"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LibraryConfig struct {
	Dir  string `yaml:"dir"`
	File string `yaml:"file"`
}

type UpdatesConfig struct {
	APIBase string        `yaml:"api_base"`
	AppRepo string        `yaml:"app_repo"`
	LibRepo string        `yaml:"lib_repo"`
	Timeout time.Duration `yaml:"timeout"`
}

type TrackingConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 32332,
		},
		Library: LibraryConfig{
			Dir:  defaultLibraryDir(),
			File: "cvAutoTrack.dll",
		},
		Updates: UpdatesConfig{
			APIBase: "https://api.github.com",
			AppRepo: "Haytsir/Genshin-Paisitioning-App",
			LibRepo: "Haytsir/gpa-lib-mirror",
			Timeout: 30 * time.Second,
		},
		Tracking: TrackingConfig{
			EventBuffer: 64,
		},
	}
}

// defaultLibraryDir is the cvAutoTrack directory next to the executable.
func defaultLibraryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "cvAutoTrack"
	}
	return filepath.Join(filepath.Dir(exe), "cvAutoTrack")
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults; an empty path does too.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Library.Dir == "" || c.Library.File == "" {
		return errors.New("library.dir and library.file are required")
	}
	if c.Tracking.EventBuffer <= 0 {
		return fmt.Errorf("tracking.event_buffer must be positive, got %d", c.Tracking.EventBuffer)
	}
	if c.Updates.Timeout <= 0 {
		return fmt.Errorf("updates.timeout must be positive, got %s", c.Updates.Timeout)
	}
	return nil
}

// LibraryPath is the full path of the vision library file.
func (c *Config) LibraryPath() string {
	return filepath.Join(c.Library.Dir, c.Library.File)
}
