package app

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the custom URI scheme the browser uses to launch the daemon.
const Scheme = Name

// LaunchParams are the switches carried by a launch URI such as
// genshin-paisitioning://launch/debug.
type LaunchParams struct {
	Launch bool
	Debug  bool
	// Params holds every segment and query key, including unknown ones.
	Params map[string]bool
}

// FindURI returns the first argument using Scheme.
func FindURI(args []string) (string, bool) {
	prefix := Scheme + "://"
	for _, arg := range args {
		if strings.HasPrefix(strings.ToLower(arg), prefix) {
			return arg, true
		}
	}
	return "", false
}

// ParseURI splits a launch URI into its parameters. Host and path segments
// and query keys all count as parameters.
func ParseURI(raw string) (LaunchParams, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return LaunchParams{}, fmt.Errorf("parsing launch uri: %w", err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return LaunchParams{}, fmt.Errorf("launch uri scheme %q, want %q", u.Scheme, Scheme)
	}

	p := LaunchParams{Params: make(map[string]bool)}
	segments := append([]string{u.Host}, strings.Split(u.Path, "/")...)
	for _, s := range segments {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			p.Params[s] = true
		}
	}
	for key := range u.Query() {
		p.Params[strings.ToLower(key)] = true
	}
	p.Launch = p.Params["launch"]
	p.Debug = p.Params["debug"]
	return p, nil
}
