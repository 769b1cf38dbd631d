package cvat_test

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/paisitioning/backend/internal/cvat"
	"github.com/paisitioning/backend/internal/mock"
)

func TestHandle_CloseExactlyOnce(t *testing.T) {
	lib := mock.NewLibrary(mock.Steady)
	h := cvat.Open(lib)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); !errors.Is(err, cvat.ErrClosed) {
		t.Fatalf("second Close: got %v, want ErrClosed", err)
	}
	if got := lib.Calls().Close; got != 1 {
		t.Errorf("library released %d times, want 1", got)
	}
	if !h.Closed() {
		t.Error("Closed() = false after Close")
	}
}

func TestHandle_CallsAfterCloseAreRejected(t *testing.T) {
	lib := mock.NewLibrary(mock.Steady)
	h := cvat.Open(lib)
	_ = h.Close()

	calls := map[string]func() error{
		"Init":   h.Init,
		"Uninit": h.Uninit,
		"Transform": func() error {
			_, _, _, _, err := h.Transform()
			return err
		},
		"Rotation": func() error {
			_, err := h.Rotation()
			return err
		},
		"CaptureMode": func() error { return h.SetCaptureMode(true) },
		"Version": func() error {
			_, err := h.CompileVersion()
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, cvat.ErrClosed) {
			t.Errorf("%s after Close: got %v, want ErrClosed", name, err)
		}
	}

	before := lib.Calls()
	if before.Init != 0 || before.Transform != 0 || before.Rotation != 0 {
		t.Errorf("library reached after Close: %+v", before)
	}
}

func TestHandle_TransformAndRotation(t *testing.T) {
	h := cvat.Open(mock.NewLibrary(mock.Steady))
	defer h.Close()

	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	x, y, _, m, err := h.Transform()
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if x == 0 && y == 0 {
		t.Error("Transform returned the origin; expected a synthetic position")
	}
	if m != 0 {
		t.Errorf("map id = %d, want 0", m)
	}
	if _, err := h.Rotation(); err != nil {
		t.Fatalf("Rotation: %v", err)
	}
}

func TestHandle_TrackingFailureIsTranslated(t *testing.T) {
	h := cvat.Open(mock.NewLibrary(mock.Lost))
	defer h.Close()

	_, _, _, _, err := h.Transform()
	if !cvat.IsKind(err, cvat.KindTracking) {
		t.Fatalf("Transform error = %v, want KindTracking", err)
	}
	msg := cvat.Message(err)
	if !strings.Contains(msg, "잘못된 핸들") {
		t.Errorf("message not translated: %q", msg)
	}
}

func TestHandle_InitFailure(t *testing.T) {
	lib := mock.NewLibrary(mock.Steady)
	lib.FailInit = true
	h := cvat.Open(lib)
	defer h.Close()

	err := h.Init()
	if !cvat.IsKind(err, cvat.KindInitialization) {
		t.Fatalf("Init error = %v, want KindInitialization", err)
	}
}

func TestHandle_CompileInfo(t *testing.T) {
	lib := mock.NewLibrary(mock.Steady)
	h := cvat.Open(lib)
	defer h.Close()

	v, err := h.CompileVersion()
	if err != nil || v != lib.Version {
		t.Errorf("CompileVersion = %q, %v; want %q", v, err, lib.Version)
	}
	bt, err := h.CompileTime()
	if err != nil || bt != lib.BuildTime {
		t.Errorf("CompileTime = %q, %v; want %q", bt, err, lib.BuildTime)
	}
}

func TestLoad_MissingLibrary(t *testing.T) {
	_, err := cvat.Load(t.TempDir(), "")
	if !cvat.IsKind(err, cvat.KindLibrary) {
		t.Fatalf("Load error = %v, want KindLibrary", err)
	}
	if runtime.GOOS != "windows" && !errors.Is(err, cvat.ErrUnsupported) {
		t.Errorf("Load on %s: got %v, want ErrUnsupported", runtime.GOOS, err)
	}
}
