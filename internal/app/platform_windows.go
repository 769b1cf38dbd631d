//go:build windows

package app

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const schemeKey = `Software\Classes\` + Scheme

func registerScheme(exe string) error {
	root, _, err := registry.CreateKey(registry.CURRENT_USER, schemeKey, registry.ALL_ACCESS)
	if err != nil {
		return err
	}
	defer root.Close()
	if err := root.SetStringValue("", "URL:"+Scheme+" Protocol"); err != nil {
		return err
	}
	if err := root.SetStringValue("URL Protocol", ""); err != nil {
		return err
	}

	cmd, _, err := registry.CreateKey(registry.CURRENT_USER, schemeKey+`\shell\open\command`, registry.ALL_ACCESS)
	if err != nil {
		return err
	}
	defer cmd.Close()
	return cmd.SetStringValue("", fmt.Sprintf(`"%s" "%%1"`, exe))
}

func unregisterScheme() error {
	// Subkeys must go before their parents.
	for _, key := range []string{
		schemeKey + `\shell\open\command`,
		schemeKey + `\shell\open`,
		schemeKey + `\shell`,
		schemeKey,
	} {
		if err := registry.DeleteKey(registry.CURRENT_USER, key); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return nil
}

// ShowError blocks on a modal error box.
func ShowError(title, message string) {
	t, _ := windows.UTF16PtrFromString(title)
	m, _ := windows.UTF16PtrFromString(message)
	windows.MessageBox(0, m, t, windows.MB_OK|windows.MB_ICONERROR)
}
