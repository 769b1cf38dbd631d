// Package tracking runs the poll loop against the vision library and owns
// the library handle for the lifetime of the process.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paisitioning/backend/internal/cvat"
)

// MinIntervalMS is the floor applied to both poll intervals.
const MinIntervalMS = 100

// ErrStillTracking is returned by Unload when a poll loop is still running
// after the stop wait gave up.
var ErrStillTracking = errors.New("tracking is still active")

type State int

const (
	StateUnloaded State = iota
	StateIdle
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader produces a freshly loaded library handle.
type Loader func() (*cvat.Handle, error)

// Sleeper pauses the poll loop for d. It must return early once wake is closed.
type Sleeper func(d time.Duration, wake <-chan struct{})

// Options configures a Session. Zero values select the defaults.
type Options struct {
	IntervalMS     uint32
	DelayOnErrorMS uint32
	BitbltCapture  bool
	EventBuffer    int
	Sleep          Sleeper
	Logger         *slog.Logger
}

// Session is the tracking state machine:
//
//	Unloaded -> Idle (Initialize) -> Polling (Start) -> Idle (Stop) -> Unloaded (Unload)
//
// At most one poll goroutine exists at any time. The goroutine is the only
// caller of the handle while polling; Unload waits for it before closing.
type Session struct {
	mu     sync.Mutex // guards handle, bitblt, stop, done and every transition
	load   Loader
	handle *cvat.Handle
	bitblt bool
	stop   chan struct{}
	done   chan struct{}

	tracking atomic.Bool
	interval atomic.Uint32
	delay    atomic.Uint32

	events chan Event
	sleep  Sleeper
	logger *slog.Logger
}

func NewSession(load Loader, opts Options) *Session {
	if opts.IntervalMS == 0 {
		opts.IntervalMS = 250
	}
	if opts.DelayOnErrorMS == 0 {
		opts.DelayOnErrorMS = 1000
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.Sleep == nil {
		opts.Sleep = interruptibleSleep
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		load:   load,
		bitblt: opts.BitbltCapture,
		events: make(chan Event, opts.EventBuffer),
		sleep:  opts.Sleep,
		logger: opts.Logger.With("component", "tracking"),
	}
	s.SetIntervals(opts.IntervalMS, opts.DelayOnErrorMS)
	return s
}

// Events delivers poll results and lifecycle notifications to the async side.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.handle == nil:
		return StateUnloaded
	case s.tracking.Load():
		return StatePolling
	default:
		return StateIdle
	}
}

// IsTracking reports whether a poll loop is running or draining.
func (s *Session) IsTracking() bool {
	return s.tracking.Load()
}

// SetIntervals updates the live poll intervals. Both are clamped to
// MinIntervalMS. The loop picks them up on its next sleep.
func (s *Session) SetIntervals(intervalMS, delayOnErrorMS uint32) {
	s.interval.Store(max(intervalMS, MinIntervalMS))
	s.delay.Store(max(delayOnErrorMS, MinIntervalMS))
}

// Intervals returns the live poll interval and error delay.
func (s *Session) Intervals() (interval, delayOnError time.Duration) {
	return time.Duration(s.interval.Load()) * time.Millisecond,
		time.Duration(s.delay.Load()) * time.Millisecond
}

// SetCaptureMode records the capture backend. It is applied to the library
// on the next Start.
func (s *Session) SetCaptureMode(bitblt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitblt = bitblt
}

// Initialize loads the library if no handle exists yet.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked()
}

func (s *Session) initializeLocked() error {
	if s.handle != nil {
		return nil
	}
	h, err := s.load()
	if err != nil {
		return err
	}
	s.handle = h
	version, _ := h.CompileVersion()
	built, _ := h.CompileTime()
	s.logger.Info("vision library loaded", "version", version, "built", built)
	return nil
}

// Start begins polling, loading the library first when needed. Calling
// Start while already polling is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracking.Load() {
		s.logger.Debug("start requested while already polling")
		return nil
	}
	// A previous loop may still be draining after Stop; it must call Uninit
	// before this Start calls Init.
	if s.done != nil {
		<-s.done
	}
	if err := s.initializeLocked(); err != nil {
		return err
	}

	if err := s.handle.SetCaptureMode(s.bitblt); err != nil {
		s.logger.Warn("capture mode not applied", "bitblt", s.bitblt, "error", err)
	}
	if err := s.handle.Init(); err != nil {
		return err
	}

	s.tracking.Store(true)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.handle, s.stop, s.done)

	s.emit(Event{Kind: EventStarted})
	return nil
}

// Stop asks the poll loop to exit. The loop notices at the top of its next
// iteration; use StopAndWait to wait for that.
func (s *Session) Stop() {
	s.tracking.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// StopAndWait stops the poll loop and blocks until it has exited or ctx ends.
func (s *Session) StopAndWait(ctx context.Context) error {
	s.Stop()
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for poll loop: %w", ctx.Err())
	}
}

// Unload stops polling, waits for the loop to exit and releases the library.
func (s *Session) Unload(ctx context.Context) error {
	if err := s.StopAndWait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking.Load() {
		return ErrStillTracking
	}
	if s.handle == nil {
		return nil
	}
	h := s.handle
	s.handle = nil
	if err := h.Close(); err != nil {
		return err
	}
	s.logger.Info("vision library unloaded")
	return nil
}

// Versions returns the compile version and time of the loaded library.
func (s *Session) Versions() (version, built string, err error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	if h == nil {
		return "", "", errors.New("vision library is not loaded")
	}
	if version, err = h.CompileVersion(); err != nil {
		return "", "", err
	}
	built, err = h.CompileTime()
	return version, built, err
}

func (s *Session) run(h *cvat.Handle, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.tracking.Store(false)
			s.logger.Error("poll loop panicked", "panic", r)
		}
		if err := h.Uninit(); err != nil {
			s.logger.Warn("uninit failed", "error", err)
		}
		s.emit(Event{Kind: EventStopped})
		s.logger.Debug("poll loop stopped")
	}()

	s.logger.Debug("poll loop started")
	for s.tracking.Load() {
		data, err := poll(h)
		if errors.Is(err, cvat.ErrClosed) {
			s.tracking.Store(false)
			return
		}

		wait := time.Duration(s.interval.Load()) * time.Millisecond
		if err != nil {
			s.logger.Debug("poll failed", "error", err)
			wait = time.Duration(s.delay.Load()) * time.Millisecond
		}
		s.emit(Event{Kind: EventTrack, Track: data})
		s.sleep(wait, stop)
	}
}

func poll(h *cvat.Handle) (TrackData, error) {
	var data TrackData
	x, y, a, m, err := h.Transform()
	if err == nil {
		data.X, data.Y, data.A, data.M = x, y, a, m
		data.R, err = h.Rotation()
	}
	if err != nil {
		data.Err = cvat.Message(err)
	}
	return data, err
}

// emit never blocks. A full buffer drops track events; lifecycle events
// evict the oldest queued event instead.
func (s *Session) emit(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		if ev.Kind == EventTrack {
			s.logger.Debug("track event dropped, consumer too slow")
			return
		}
		select {
		case old := <-s.events:
			s.logger.Debug("event evicted", "kind", old.Kind, "for", ev.Kind)
		default:
		}
	}
}

func interruptibleSleep(d time.Duration, wake <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-wake:
	}
}
