// Package settings owns the user configuration shared with the browser
// client: capture intervals, capture backend and update preferences.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
)

const (
	// FileName is the configuration file inside the per-user app directory.
	FileName = "config.json"
	// EnvPrefix prefixes every environment override, e.g. APP_CAPTURE_INTERVAL.
	EnvPrefix = "APP_"
	// MinIntervalMS is the floor for both capture intervals.
	MinIntervalMS = 100
)

// ErrPersist marks an update that was applied in memory but could not be
// written to disk.
var ErrPersist = errors.New("configuration not persisted")

// Configuration is the user-editable record. Field names on the wire match
// the browser client.
type Configuration struct {
	AutoAppUpdate        bool   `json:"autoAppUpdate" env:"AUTO_APP_UPDATE"`
	AutoLibUpdate        bool   `json:"autoLibUpdate" env:"AUTO_LIB_UPDATE"`
	CaptureInterval      uint32 `json:"captureInterval" env:"CAPTURE_INTERVAL"`
	CaptureDelayOnError  uint32 `json:"captureDelayOnError" env:"CAPTURE_DELAY_ON_ERROR"`
	UseBitBltCaptureMode bool   `json:"useBitBltCaptureMode" env:"USE_BIT_BLT_CAPTURE_MODE"`
}

func Default() Configuration {
	return Configuration{
		AutoAppUpdate:       true,
		AutoLibUpdate:       true,
		CaptureInterval:     250,
		CaptureDelayOnError: 1000,
	}
}

// Clamp raises both intervals to MinIntervalMS.
func (c *Configuration) Clamp() {
	c.CaptureInterval = max(c.CaptureInterval, MinIntervalMS)
	c.CaptureDelayOnError = max(c.CaptureDelayOnError, MinIntervalMS)
}

// Merge overlays the fields present in a JSON object onto c. Absent fields
// keep their current values.
func (c *Configuration) Merge(data []byte) error {
	if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
		return fmt.Errorf("decoding configuration: %w", err)
	}
	return nil
}

// Change describes one field that differs between two configurations.
type Change struct {
	Field string
	Old   any
	New   any
}

// Diff lists the fields that differ between old and new, by JSON name.
func Diff(old, new Configuration) []Change {
	var changes []Change
	ov, nv := reflect.ValueOf(old), reflect.ValueOf(new)
	t := ov.Type()
	for i := range t.NumField() {
		if ov.Field(i).Equal(nv.Field(i)) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		changes = append(changes, Change{
			Field: name,
			Old:   ov.Field(i).Interface(),
			New:   nv.Field(i).Interface(),
		})
	}
	return changes
}

// Listener observes every successful update. It runs while the manager holds
// its write lock and must not call back into the manager.
type Listener func(old, new Configuration)

// Options tunes Load.
type Options struct {
	// Environment replaces the process environment for overrides; nil means os.Environ.
	Environment map[string]string
	Logger      *slog.Logger
}

// Manager is the single owner of the user configuration.
type Manager struct {
	mu        sync.RWMutex
	path      string
	cfg       Configuration
	listeners []Listener
	logger    *slog.Logger
}

// Load reads the configuration at path, writing the defaults there first if
// the file does not exist. Environment variables prefixed with EnvPrefix
// override file values.
func Load(path string, opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings")

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("writing default configuration", "path", path)
		if err := Save(path, Default()); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	cfg := Default()
	if err := cfg.Merge(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	envOpts := env.Options{Prefix: EnvPrefix, Environment: opts.Environment}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}
	cfg.Clamp()

	logger.Debug("configuration loaded", "path", path, "config", cfg)
	return &Manager{path: path, cfg: cfg, logger: logger}, nil
}

func (m *Manager) Path() string {
	return m.path
}

// Get returns a snapshot of the current configuration.
func (m *Manager) Get() Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// RegisterHandler appends a listener. Listeners run in registration order.
func (m *Manager) RegisterHandler(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Update applies mutate under the write lock, clamps the result, notifies
// listeners and persists it. When persisting fails the new value stays in
// effect and the returned error wraps ErrPersist.
func (m *Manager) Update(mutate func(*Configuration)) (Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.cfg
	next := old
	mutate(&next)
	next.Clamp()
	m.cfg = next

	for _, c := range Diff(old, next) {
		m.logger.Info("configuration changed", "field", c.Field, "old", c.Old, "new", c.New)
	}
	for _, l := range m.listeners {
		l(old, next)
	}

	if err := Save(m.path, next); err != nil {
		m.logger.Error("configuration not persisted", "path", m.path, "error", err)
		return next, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return next, nil
}

// Save writes cfg as indented JSON using a temp-file-then-rename so readers
// never see a partial file.
func Save(path string, cfg Configuration) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming config file: %w", err)
	}
	committed = true
	return nil
}
