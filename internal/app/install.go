package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/paisitioning/backend/internal/settings"
)

// Installer copies the daemon into the per-user directory and registers the
// launch URI scheme.
type Installer struct {
	Paths  Paths
	Exe    string // executable to install
	Logger *slog.Logger
}

// Target is where the installed executable lives.
func (i *Installer) Target() string {
	return filepath.Join(i.Paths.Bin, filepath.Base(i.Exe))
}

func (i *Installer) Install() error {
	logger := i.logger()
	if err := os.MkdirAll(i.Paths.Bin, 0o755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}

	target := i.Target()
	if !samePath(i.Exe, target) {
		if err := copyFile(i.Exe, target); err != nil {
			return fmt.Errorf("copying executable: %w", err)
		}
	}

	if _, err := os.Stat(i.Paths.Config); errors.Is(err, os.ErrNotExist) {
		if err := settings.Save(i.Paths.Config, settings.Default()); err != nil {
			return err
		}
	}

	if err := registerScheme(target); err != nil {
		return fmt.Errorf("registering %s:// scheme: %w", Scheme, err)
	}
	logger.Info("installed", "target", target)
	return nil
}

// Uninstall removes the scheme registration and the installed executable.
// The user configuration is kept.
func (i *Installer) Uninstall() error {
	logger := i.logger()
	var errs []error
	if err := unregisterScheme(); err != nil {
		errs = append(errs, fmt.Errorf("unregistering %s:// scheme: %w", Scheme, err))
	}
	target := i.Target()
	if samePath(i.Exe, target) {
		logger.Warn("running from the install dir, executable left in place", "target", target)
	} else if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		logger.Info("uninstalled", "target", target)
	}
	return errors.Join(errs...)
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

func samePath(a, b string) bool {
	ai, err1 := os.Stat(a)
	bi, err2 := os.Stat(b)
	return err1 == nil && err2 == nil && os.SameFile(ai, bi)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
