// Package daemon wires the tracking session, user configuration, update
// client and WebSocket hub together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paisitioning/backend/internal/events"
	"github.com/paisitioning/backend/internal/settings"
	"github.com/paisitioning/backend/internal/tracking"
	"github.com/paisitioning/backend/internal/updater"
	"github.com/paisitioning/backend/internal/ws"
)

// DefaultUnloadTimeout bounds how long a library replacement waits for the
// poll loop to exit.
const DefaultUnloadTimeout = 5 * time.Second

// Updater checks and installs new builds. *updater.Client implements it.
type Updater interface {
	CheckApp(ctx context.Context, force bool, report updater.Progress) (updater.Info, error)
	CheckLib(ctx context.Context, force bool, report updater.Progress) (updater.Info, error)
}

type Options struct {
	Session  *tracking.Session
	Settings *settings.Manager
	Hub      *ws.Hub
	Bus      *events.Bus
	Updater  Updater
	// ExitWhenEmpty requests shutdown once the last client disconnects.
	ExitWhenEmpty bool
	UnloadTimeout time.Duration
	Logger        *slog.Logger
}

type Daemon struct {
	session  *tracking.Session
	settings *settings.Manager
	hub      *ws.Hub
	bus      *events.Bus
	updater  Updater

	unloadTimeout time.Duration
	wasTracking   atomic.Bool

	// ctx outlives individual requests; update checks run under it.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}
	reason       atomic.Value // string

	logger *slog.Logger
}

// New registers every WebSocket handler, bus subscription and settings
// listener. Nothing runs until Run.
func New(opts Options) *Daemon {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.UnloadTimeout <= 0 {
		opts.UnloadTimeout = DefaultUnloadTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		session:       opts.Session,
		settings:      opts.Settings,
		hub:           opts.Hub,
		bus:           opts.Bus,
		updater:       opts.Updater,
		unloadTimeout: opts.UnloadTimeout,
		ctx:           ctx,
		cancel:        cancel,
		shutdown:      make(chan struct{}),
		logger:        opts.Logger.With("component", "daemon"),
	}

	cfg := d.settings.Get()
	d.session.SetIntervals(cfg.CaptureInterval, cfg.CaptureDelayOnError)
	d.session.SetCaptureMode(cfg.UseBitBltCaptureMode)
	d.settings.RegisterHandler(d.applySettings)

	d.hub.Register(ws.EventInit, d.handleInit)
	d.hub.Register(ws.EventUninit, d.handleUninit)
	d.hub.Register(ws.EventGetConfig, d.handleGetConfig)
	d.hub.Register(ws.EventSetConfig, d.handleSetConfig)
	d.hub.Register(ws.EventCheckAppUpdate, d.handleCheckAppUpdate)
	d.hub.Register(ws.EventCheckLibUpdate, d.handleCheckLibUpdate)
	if opts.ExitWhenEmpty {
		d.hub.OnEmpty(func() { d.Shutdown("last client disconnected") })
	}

	d.bus.Register(events.TrackingUninit, d.onTrackingUninit)
	d.bus.Register(events.LibraryReplacing, d.onLibraryReplacing)
	d.bus.Register(events.LibraryReplaced, d.onLibraryReplaced)
	d.bus.Register(events.ProcessShutdown, func(_ context.Context, ev events.Event) error {
		d.Shutdown(ev.Reason)
		return nil
	})
	return d
}

// Run forwards tracking output to the clients until ctx ends or a shutdown
// is requested, then stops tracking and releases the library.
func (d *Daemon) Run(ctx context.Context) error {
	defer func() {
		d.cancel()
		d.tasks.Wait()
	}()

	evs := d.session.Events()
	for {
		select {
		case <-ctx.Done():
			return d.stop("context done")
		case <-d.shutdown:
			return d.stop(d.Reason())
		case ev := <-evs:
			d.forward(ev)
		}
	}
}

func (d *Daemon) stop(reason string) error {
	d.logger.Info("stopping", "reason", reason)
	ctx, cancel := context.WithTimeout(context.Background(), d.unloadTimeout)
	defer cancel()
	return d.session.Unload(ctx)
}

// Shutdown asks Run to return. Only the first reason is kept.
func (d *Daemon) Shutdown(reason string) {
	d.shutdownOnce.Do(func() {
		d.reason.Store(reason)
		close(d.shutdown)
	})
}

// Done is closed once a shutdown has been requested.
func (d *Daemon) Done() <-chan struct{} {
	return d.shutdown
}

func (d *Daemon) Reason() string {
	r, _ := d.reason.Load().(string)
	return r
}

func (d *Daemon) forward(ev tracking.Event) {
	switch ev.Kind {
	case tracking.EventTrack:
		d.hub.Broadcast(ws.Message{Tag: ws.TagTrack, Data: ev.Track})
	case tracking.EventStarted:
		d.hub.Broadcast(ws.Message{Tag: ws.TagDoneInit})
	case tracking.EventStopped:
		d.hub.Broadcast(ws.Message{Tag: ws.TagUninit})
	}
}

func (d *Daemon) applySettings(old, cfg settings.Configuration) {
	if old.CaptureInterval != cfg.CaptureInterval || old.CaptureDelayOnError != cfg.CaptureDelayOnError {
		d.session.SetIntervals(cfg.CaptureInterval, cfg.CaptureDelayOnError)
	}
	if old.UseBitBltCaptureMode != cfg.UseBitBltCaptureMode {
		d.session.SetCaptureMode(cfg.UseBitBltCaptureMode)
	}
}

func (d *Daemon) handleInit(_ context.Context, clientID string, _ ws.Request) error {
	if err := d.session.Start(); err != nil {
		return fmt.Errorf("starting tracking for %s: %w", clientID, err)
	}
	return nil
}

func (d *Daemon) handleUninit(ctx context.Context, _ string, _ ws.Request) error {
	return d.bus.Emit(ctx, events.Event{Key: events.TrackingUninit, Reason: "client request"})
}

func (d *Daemon) handleGetConfig(_ context.Context, clientID string, _ ws.Request) error {
	d.hub.SendTo(clientID, ws.Message{Tag: ws.TagConfig, Data: d.settings.Get()})
	return nil
}

func (d *Daemon) handleSetConfig(_ context.Context, clientID string, req ws.Request) error {
	r, ok := req.(ws.SetConfigRequest)
	if !ok {
		return fmt.Errorf("unexpected request %T", req)
	}
	probe := d.settings.Get()
	if err := probe.Merge(r.Patch); err != nil {
		return err
	}
	cfg, err := d.settings.Update(func(c *settings.Configuration) {
		_ = c.Merge(r.Patch)
	})
	// A persist failure still applied the change in memory.
	if err != nil && !errors.Is(err, settings.ErrPersist) {
		return err
	}
	d.hub.SendTo(clientID, ws.Message{Tag: ws.TagConfig, Data: cfg})
	return err
}

func (d *Daemon) handleCheckAppUpdate(_ context.Context, clientID string, req ws.Request) error {
	r, _ := req.(ws.CheckAppUpdateRequest)
	d.checkAsync(clientID, updater.TargetApp, r.Force, d.updater.CheckApp)
	return nil
}

func (d *Daemon) handleCheckLibUpdate(_ context.Context, clientID string, req ws.Request) error {
	r, _ := req.(ws.CheckLibUpdateRequest)
	d.checkAsync(clientID, updater.TargetLib, r.Force, d.updater.CheckLib)
	return nil
}

type checkFunc func(ctx context.Context, force bool, report updater.Progress) (updater.Info, error)

// checkAsync runs an update check off the client's read loop and reports
// progress to that client only.
func (d *Daemon) checkAsync(clientID, target string, force bool, check checkFunc) {
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		report := func(info updater.Info) {
			d.hub.SendTo(clientID, ws.Message{Tag: ws.TagUpdate, Data: info})
		}
		if _, err := check(d.ctx, force, report); err != nil {
			d.logger.Warn("update check failed", "target", target, "client", clientID, "error", err)
			report(updater.Info{TargetType: target, Done: true})
		}
	}()
}

// AutoUpdate runs the startup checks enabled in the user configuration.
// Results are only logged; no client is connected yet.
func (d *Daemon) AutoUpdate(ctx context.Context) {
	cfg := d.settings.Get()
	if cfg.AutoLibUpdate {
		if info, err := d.updater.CheckLib(ctx, false, nil); err != nil {
			d.logger.Warn("vision library update failed", "error", err)
		} else {
			d.logger.Info("vision library checked", "version", info.TargetVersion, "updated", info.Updated)
		}
	}
	if cfg.AutoAppUpdate {
		if info, err := d.updater.CheckApp(ctx, false, nil); err != nil {
			d.logger.Warn("app update failed", "error", err)
		} else {
			d.logger.Info("app checked", "version", info.TargetVersion, "updated", info.Updated)
		}
	}
}

func (d *Daemon) onTrackingUninit(_ context.Context, ev events.Event) error {
	d.logger.Debug("stopping tracking", "reason", ev.Reason)
	d.session.Stop()
	return nil
}

// onLibraryReplacing releases the library so its file can be overwritten.
// An error aborts the replacement.
func (d *Daemon) onLibraryReplacing(ctx context.Context, ev events.Event) error {
	d.wasTracking.Store(d.session.IsTracking())
	ctx, cancel := context.WithTimeout(ctx, d.unloadTimeout)
	defer cancel()
	if err := d.session.Unload(ctx); err != nil {
		return err
	}
	d.logger.Info("vision library released for replacement", "version", ev.Reason)
	return nil
}

// onLibraryReplaced resumes tracking if it was running before the swap.
func (d *Daemon) onLibraryReplaced(_ context.Context, ev events.Event) error {
	if !d.wasTracking.Swap(false) {
		return nil
	}
	d.logger.Info("resuming tracking", "version", ev.Reason)
	return d.session.Start()
}
