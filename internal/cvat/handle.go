// Package cvat binds the closed-source vision tracking library. Everything
// that calls into unmanaged code goes through a Handle.
package cvat

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
)

// DefaultFile is the file name of the vision library inside its directory.
const DefaultFile = "cvAutoTrack.dll"

const errorBufferSize = 1024

// Library is the raw export table of the vision library. Out parameters are
// written through pointers exactly like the native ABI; every call reports
// success with its bool result.
type Library interface {
	Init() bool
	Uninit() bool
	SetUseBitbltCaptureMode() bool
	SetUseDx11CaptureMode() bool
	SetDisableFileLog() bool
	GetTransformOfMap(x, y, a *float64, mapID *int32) bool
	GetRotation(r *float64) bool
	GetLastErrorJSON(buf []byte) int
	GetCompileVersion(buf []byte) bool
	GetCompileTime(buf []byte) bool
	// Close releases the loaded module.
	Close() error
}

// Handle owns a loaded Library. Calls are serialized because the library
// makes no concurrency guarantees, and nothing can reach the library after
// Close.
type Handle struct {
	mu     sync.Mutex
	lib    Library
	closed bool
}

// Open wraps an already loaded library.
func Open(lib Library) *Handle {
	return &Handle{lib: lib}
}

// Load loads the vision library from dir/file and resolves every required
// export. A missing file or symbol yields a KindLibrary error.
func Load(dir, file string) (*Handle, error) {
	if file == "" {
		file = DefaultFile
	}
	lib, err := loadLibrary(dir, filepath.Join(dir, file))
	if err != nil {
		return nil, &Error{Kind: KindLibrary, Op: "load", Err: err}
	}
	return Open(lib), nil
}

func (h *Handle) with(fn func(lib Library) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return fn(h.lib)
}

// Init starts the library's capture resources.
func (h *Handle) Init() error {
	return h.with(func(lib Library) error {
		if !lib.Init() {
			return &Error{Kind: KindInitialization, Op: "init", Err: lastError(lib)}
		}
		return nil
	})
}

// Uninit releases the library's capture resources.
func (h *Handle) Uninit() error {
	return h.with(func(lib Library) error {
		if !lib.Uninit() {
			return &Error{Kind: KindLibrary, Op: "uninit", Err: lastError(lib)}
		}
		return nil
	})
}

// SetCaptureMode selects BitBlt capture when bitblt is set, DirectX 11 otherwise.
func (h *Handle) SetCaptureMode(bitblt bool) error {
	return h.with(func(lib Library) error {
		ok, op := false, ""
		if bitblt {
			ok, op = lib.SetUseBitbltCaptureMode(), "SetUseBitbltCaptureMode"
		} else {
			ok, op = lib.SetUseDx11CaptureMode(), "SetUseDx11CaptureMode"
		}
		if !ok {
			return &Error{Kind: KindLibrary, Op: op, Err: lastError(lib)}
		}
		return nil
	})
}

func (h *Handle) DisableFileLog() error {
	return h.with(func(lib Library) error {
		if !lib.SetDisableFileLog() {
			return &Error{Kind: KindLibrary, Op: "SetDisableFileLog", Err: lastError(lib)}
		}
		return nil
	})
}

// Transform returns the player position, direction and map id. A failed
// call is a KindTracking error whose message is the translated error JSON.
func (h *Handle) Transform() (x, y, a float64, mapID int32, err error) {
	err = h.with(func(lib Library) error {
		if !lib.GetTransformOfMap(&x, &y, &a, &mapID) {
			return &Error{Kind: KindTracking, Op: "GetTransformOfMap", Err: lastError(lib)}
		}
		return nil
	})
	return x, y, a, mapID, err
}

// Rotation returns the camera rotation angle.
func (h *Handle) Rotation() (r float64, err error) {
	err = h.with(func(lib Library) error {
		if !lib.GetRotation(&r) {
			return &Error{Kind: KindTracking, Op: "GetRotation", Err: lastError(lib)}
		}
		return nil
	})
	return r, err
}

// LastErrorJSON returns the library's last error document, untranslated.
func (h *Handle) LastErrorJSON() (string, error) {
	var out string
	err := h.with(func(lib Library) error {
		out = readLastError(lib)
		return nil
	})
	return out, err
}

func (h *Handle) CompileVersion() (string, error) {
	return h.readString("GetCompileVersion", Library.GetCompileVersion)
}

func (h *Handle) CompileTime() (string, error) {
	return h.readString("GetCompileTime", Library.GetCompileTime)
}

func (h *Handle) readString(op string, call func(Library, []byte) bool) (string, error) {
	var out string
	err := h.with(func(lib Library) error {
		buf := make([]byte, 256)
		if !call(lib, buf) {
			return &Error{Kind: KindLibrary, Op: op, Err: lastError(lib)}
		}
		out = cString(buf)
		return nil
	})
	return out, err
}

// Close unloads the library. It succeeds exactly once; later calls and every
// other method return ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	lib := h.lib
	h.lib = nil
	if err := lib.Close(); err != nil {
		return &Error{Kind: KindLibrary, Op: "close", Err: err}
	}
	return nil
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func lastError(lib Library) error {
	raw := readLastError(lib)
	if raw == "" {
		return errors.New("no error detail reported")
	}
	return errors.New(TranslateErrorJSON(raw))
}

func readLastError(lib Library) string {
	buf := make([]byte, errorBufferSize)
	lib.GetLastErrorJSON(buf)
	return cString(buf)
}

func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}
