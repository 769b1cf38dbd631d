package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/paisitioning/backend/internal/app"
	"github.com/paisitioning/backend/internal/config"
	"github.com/paisitioning/backend/internal/cvat"
	"github.com/paisitioning/backend/internal/daemon"
	"github.com/paisitioning/backend/internal/events"
	"github.com/paisitioning/backend/internal/mock"
	"github.com/paisitioning/backend/internal/settings"
	"github.com/paisitioning/backend/internal/tracking"
	"github.com/paisitioning/backend/internal/updater"
	"github.com/paisitioning/backend/internal/ws"
)

const dialogTitle = "Genshin Paisitioning"

func main() {
	install := pflag.BoolP("install", "i", false, "Install for the current user and register the launch URI")
	uninstall := pflag.BoolP("uninstall", "u", false, "Remove the launch URI registration and installed executable")
	debug := pflag.BoolP("debug", "d", false, "Enable debug logging")
	mockPattern := pflag.String("mock", "", "Use a synthetic vision library (steady, flaky or lost)")
	configPath := pflag.String("config", "", "Path to the daemon settings file")
	home := pflag.String("home", "", "Override the per-user data directory")
	port := pflag.Int("port", 0, "Override server port")
	pflag.Parse()

	if uri, ok := app.FindURI(pflag.Args()); ok {
		params, err := app.ParseURI(uri)
		if err != nil {
			fatal("Invalid launch link", err)
		}
		*debug = *debug || params.Debug
	}

	paths, err := app.ResolvePaths(*home)
	if err != nil {
		fatal("Cannot locate the application directory", err)
	}
	if err := paths.Ensure(); err != nil {
		fatal("Cannot create the application directory", err)
	}
	logger, logFile, err := app.SetupLogging(paths.Logs, *debug)
	if err != nil {
		fatal("Cannot open the log file", err)
	}
	defer logFile.Close()

	exe, err := os.Executable()
	if err != nil {
		fatal("Cannot locate the executable", err)
	}

	if *install || *uninstall {
		inst := &app.Installer{Paths: paths, Exe: exe, Logger: logger}
		op, run := "Install", inst.Install
		if *uninstall {
			op, run = "Uninstall", inst.Uninstall
		}
		if err := run(); err != nil {
			fatal(op+" failed", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if pid, found, err := app.FindOtherInstance(ctx); err != nil {
		logger.Warn("instance check failed", "error", err)
	} else if found {
		fatal("Already running", fmt.Errorf("another instance is running (pid %d)", pid))
	}
	if err := updater.RemoveStale(exe); err != nil {
		logger.Warn("removing previous executable", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Cannot read the daemon settings", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	prefs, err := settings.Load(paths.Config, settings.Options{Logger: logger})
	if err != nil {
		fatal("Cannot read the configuration", err)
	}

	loader := func() (*cvat.Handle, error) {
		return cvat.Load(cfg.Library.Dir, cfg.Library.File)
	}
	if *mockPattern != "" {
		logger.Info("starting with a synthetic vision library", "pattern", *mockPattern)
		loader = func() (*cvat.Handle, error) {
			return cvat.Open(mock.NewLibrary(mock.Pattern(*mockPattern))), nil
		}
	}

	current := prefs.Get()
	bus := events.NewBus(logger)
	hub := ws.NewHub(logger)
	session := tracking.NewSession(loader, tracking.Options{
		IntervalMS:     current.CaptureInterval,
		DelayOnErrorMS: current.CaptureDelayOnError,
		BitbltCapture:  current.UseBitBltCaptureMode,
		EventBuffer:    cfg.Tracking.EventBuffer,
		Logger:         logger,
	})
	up := updater.New(updater.Options{
		APIBase:        cfg.Updates.APIBase,
		AppRepo:        cfg.Updates.AppRepo,
		LibRepo:        cfg.Updates.LibRepo,
		Timeout:        cfg.Updates.Timeout,
		CurrentVersion: app.Version,
		Executable:     exe,
		LibDir:         cfg.Library.Dir,
		LibFile:        cfg.Library.File,
		CacheDir:       paths.Cache,
		Bus:            bus,
		Logger:         logger,
	})
	d := daemon.New(daemon.Options{
		Session:       session,
		Settings:      prefs,
		Hub:           hub,
		Bus:           bus,
		Updater:       up,
		ExitWhenEmpty: true,
		Logger:        logger,
	})

	if *mockPattern == "" {
		d.AutoUpdate(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return d.Run(gctx)
	})
	g.Go(func() error {
		return ws.ListenAndServe(gctx, cfg.Server.Host, cfg.Server.Port, ws.NewServer(hub, cfg.Server.AllowedOrigins, logger).Handler(), logger)
	})
	g.Go(func() error {
		select {
		case <-d.Done():
			logger.Info("shutting down", "reason", d.Reason())
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	err = g.Wait()
	hub.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal("Server error", err)
	}
	logger.Info("exited")
}

func fatal(title string, err error) {
	slog.Error(title, "error", err)
	app.ShowError(dialogTitle, fmt.Sprintf("%s\n\n%v", title, err))
	os.Exit(1)
}
