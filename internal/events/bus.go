// Package events is the in-process bus for lifecycle signals that several
// components react to independently.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Key names a lifecycle signal.
type Key string

const (
	// TrackingUninit asks every owner of tracking resources to stop.
	TrackingUninit Key = "tracking.uninit"
	// LibraryReplacing is emitted before the vision library file is overwritten.
	LibraryReplacing Key = "library.replacing"
	// LibraryReplaced is emitted once a new vision library is on disk.
	LibraryReplaced Key = "library.replaced"
	// ProcessShutdown requests an orderly process exit.
	ProcessShutdown Key = "process.shutdown"
)

type Event struct {
	Key    Key
	Reason string
}

type Handler func(ctx context.Context, ev Event) error

// Bus fans an event out to every handler registered for its key.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Key][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Key][]Handler),
		logger:   logger.With("component", "events"),
	}
}

// Register adds h for key. Earlier registrations are kept.
func (b *Bus) Register(key Key, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[key] = append(b.handlers[key], h)
}

// Emit runs every handler for ev.Key concurrently and waits for all of them.
// A failing handler does not stop the others; failures are logged and
// returned joined.
func (b *Bus) Emit(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Key]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("event has no handlers", "key", ev.Key)
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("handler panicked: %v", r)
				}
			}()
			errs[i] = h(ctx, ev)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			b.logger.Warn("event handler failed", "key", ev.Key, "handler", i, "error", err)
			errs[i] = fmt.Errorf("%s handler %d: %w", ev.Key, i, err)
		}
	}
	return errors.Join(errs...)
}
