//go:build !windows

package app

import (
	"fmt"
	"log/slog"
	"os"
)

// The launch scheme is only registered on windows.
func registerScheme(exe string) error {
	slog.Debug("uri scheme registration skipped on this platform", "exe", exe)
	return nil
}

func unregisterScheme() error {
	return nil
}

// ShowError prints the message to stderr.
func ShowError(title, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
}
