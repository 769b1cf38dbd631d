// Package updater checks the GitHub release feeds for newer builds of the
// daemon and of the vision library, and installs them.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/paisitioning/backend/internal/events"
)

const (
	userAgent = "genshin-paisitioning-updater"

	// VersionFile holds the release name of the installed vision library.
	VersionFile = "version.tag"

	TargetApp = "app"
	TargetLib = "cvat"
)

// ErrNoAsset is returned when a release carries no zip archive.
var ErrNoAsset = errors.New("release has no zip asset")

// Info is the progress record sent to the client that asked for an update.
type Info struct {
	TargetType     string  `json:"targetType"`
	TargetVersion  string  `json:"targetVersion"`
	CurrentVersion string  `json:"currentVersion"`
	Downloaded     int64   `json:"downloaded"`
	FileSize       int64   `json:"fileSize"`
	Percent        float64 `json:"percent"`
	Done           bool    `json:"done"`
	Updated        bool    `json:"updated"`
}

// Progress receives intermediate Info records. It may be nil.
type Progress func(Info)

type Options struct {
	APIBase string
	AppRepo string
	LibRepo string
	// Timeout bounds each release feed request, retries included.
	Timeout  time.Duration
	MaxTries uint

	// CurrentVersion is the running daemon's version.
	CurrentVersion string
	// Executable is the file replaced by an app update.
	Executable string
	LibDir     string
	LibFile    string
	CacheDir   string

	HTTPClient *http.Client
	// BackOff overrides the retry schedule. Tests use a zero backoff.
	BackOff func() backoff.BackOff
	Bus     *events.Bus
	Logger  *slog.Logger
}

type Client struct {
	opts   Options
	http   *http.Client
	bus    *events.Bus
	logger *slog.Logger
}

func New(opts Options) *Client {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.github.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.LibFile == "" {
		opts.LibFile = "cvAutoTrack.dll"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		http:   opts.HTTPClient,
		bus:    opts.Bus,
		logger: opts.Logger.With("component", "updater"),
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	if c.opts.BackOff != nil {
		return c.opts.BackOff()
	}
	return backoff.NewExponentialBackOff()
}

// CheckApp installs a newer daemon build when one is published, or always
// when force is set. A successful install emits events.ProcessShutdown so
// the process can exit and be relaunched.
func (c *Client) CheckApp(ctx context.Context, force bool, report Progress) (Info, error) {
	report = orNop(report)
	rel, err := c.LatestRelease(ctx, c.opts.AppRepo)
	if err != nil {
		return Info{TargetType: TargetApp, CurrentVersion: c.opts.CurrentVersion}, err
	}

	info := Info{
		TargetType:     TargetApp,
		TargetVersion:  rel.Tag,
		CurrentVersion: c.opts.CurrentVersion,
	}
	if !force && !IsNewer(c.opts.CurrentVersion, rel.Tag) {
		c.logger.Debug("app is up to date", "current", c.opts.CurrentVersion, "latest", rel.Tag)
		info.Done = true
		report(info)
		return info, nil
	}
	c.logger.Info("app update available", "current", c.opts.CurrentVersion, "latest", rel.Tag, "forced", force)

	asset, ok := rel.ZipAsset()
	if !ok {
		return info, ErrNoAsset
	}
	archive, err := c.download(ctx, asset, c.opts.CacheDir, &info, report)
	if err != nil {
		return info, err
	}
	defer os.Remove(archive)

	staged, err := extract(archive, ".exe", filepath.Join(c.opts.CacheDir, "staged"))
	if err != nil {
		return info, err
	}
	if err := replaceExecutable(c.opts.Executable, staged[0]); err != nil {
		return info, err
	}

	info.Done, info.Updated = true, true
	report(info)
	c.logger.Info("app updated", "version", rel.Tag)

	if err := c.bus.Emit(ctx, events.Event{Key: events.ProcessShutdown, Reason: "application updated"}); err != nil {
		c.logger.Warn("shutdown after update failed", "error", err)
	}
	return info, nil
}

// CheckLib installs a newer vision library when the local file is missing
// or older than the latest release, or always when force is set. The
// library is replaced between events.LibraryReplacing and
// events.LibraryReplaced.
func (c *Client) CheckLib(ctx context.Context, force bool, report Progress) (Info, error) {
	report = orNop(report)
	current := c.LocalLibVersion()
	rel, err := c.LatestRelease(ctx, c.opts.LibRepo)
	if err != nil {
		return Info{TargetType: TargetLib, CurrentVersion: current}, err
	}

	info := Info{
		TargetType:     TargetLib,
		TargetVersion:  rel.Name,
		CurrentVersion: current,
	}
	if !force && !c.libOutdated(rel) {
		c.logger.Debug("vision library is up to date", "current", current, "latest", rel.Name)
		info.Done = true
		report(info)
		return info, nil
	}
	c.logger.Info("vision library update available", "current", current, "latest", rel.Name, "forced", force)

	asset, ok := rel.ZipAsset()
	if !ok {
		return info, ErrNoAsset
	}
	archive, err := c.download(ctx, asset, c.opts.CacheDir, &info, report)
	if err != nil {
		return info, err
	}
	defer os.Remove(archive)

	if err := c.bus.Emit(ctx, events.Event{Key: events.LibraryReplacing, Reason: rel.Name}); err != nil {
		return info, fmt.Errorf("releasing vision library: %w", err)
	}
	defer func() {
		if err := c.bus.Emit(ctx, events.Event{Key: events.LibraryReplaced, Reason: rel.Name}); err != nil {
			c.logger.Warn("library replaced handlers failed", "error", err)
		}
	}()

	if _, err := extract(archive, ".dll", c.opts.LibDir); err != nil {
		return info, err
	}
	if err := os.WriteFile(filepath.Join(c.opts.LibDir, VersionFile), []byte(rel.Name+"\n"), 0o644); err != nil {
		return info, fmt.Errorf("writing %s: %w", VersionFile, err)
	}

	info.Done, info.Updated = true, true
	report(info)
	c.logger.Info("vision library updated", "version", rel.Name)
	return info, nil
}

// LocalLibVersion returns the installed library release name, or "" when
// unknown.
func (c *Client) LocalLibVersion() string {
	data, err := os.ReadFile(filepath.Join(c.opts.LibDir, VersionFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// libOutdated compares file times rather than versions: mirror releases
// are not numbered monotonically.
func (c *Client) libOutdated(rel *Release) bool {
	st, err := os.Stat(filepath.Join(c.opts.LibDir, c.opts.LibFile))
	if err != nil {
		return true
	}
	return st.ModTime().Before(rel.PublishedAt)
}

func orNop(p Progress) Progress {
	if p == nil {
		return func(Info) {}
	}
	return p
}
