// Package app holds the process-level pieces of the daemon: per-user
// directories, launch parameters, logging, the single-instance guard,
// installation and user-facing dialogs.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paisitioning/backend/internal/settings"
)

// Name is used for the per-user directory and the URI scheme.
const Name = "genshin-paisitioning"

// Version is stamped at build time with -ldflags "-X".
var Version = "0.0.0-dev"

// Paths are the per-user locations the daemon writes to.
type Paths struct {
	Root   string
	Config string // user configuration file
	Cache  string // update downloads
	Logs   string
	Bin    string // install target
}

// ResolvePaths derives every location from root, or from the OS per-user
// config directory when root is empty.
func ResolvePaths(root string) (Paths, error) {
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("locating user config dir: %w", err)
		}
		root = filepath.Join(base, Name)
	}
	return Paths{
		Root:   root,
		Config: filepath.Join(root, settings.FileName),
		Cache:  filepath.Join(root, "cache"),
		Logs:   filepath.Join(root, "logs"),
		Bin:    filepath.Join(root, "bin"),
	}, nil
}

// Ensure creates every directory.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Root, p.Cache, p.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
