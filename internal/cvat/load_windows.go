//go:build windows

package cvat

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var requiredSymbols = []string{
	"init",
	"uninit",
	"SetUseBitbltCaptureMode",
	"SetUseDx11CaptureMode",
	"GetTransformOfMap",
	"GetRotation",
	"GetLastErrJson",
	"SetDisableFileLog",
	"GetCompileVersion",
	"GetCompileTime",
}

type dllLibrary struct {
	dll   *windows.DLL
	procs map[string]*windows.Proc
}

func loadLibrary(dir, path string) (Library, error) {
	// Dependent DLLs ship next to the library.
	if err := windows.SetDllDirectory(dir); err != nil {
		return nil, fmt.Errorf("set dll directory %s: %w", dir, err)
	}
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	lib := &dllLibrary{dll: dll, procs: make(map[string]*windows.Proc, len(requiredSymbols))}
	for _, name := range requiredSymbols {
		proc, err := dll.FindProc(name)
		if err != nil {
			dll.Release()
			return nil, fmt.Errorf("resolve symbol %s: %w", name, err)
		}
		lib.procs[name] = proc
	}
	return lib, nil
}

// call returns the C bool result, which lives in the low byte of the return register.
func (l *dllLibrary) call(name string, args ...uintptr) bool {
	r, _, _ := l.procs[name].Call(args...)
	return byte(r) != 0
}

func (l *dllLibrary) Init() bool                    { return l.call("init") }
func (l *dllLibrary) Uninit() bool                  { return l.call("uninit") }
func (l *dllLibrary) SetUseBitbltCaptureMode() bool { return l.call("SetUseBitbltCaptureMode") }
func (l *dllLibrary) SetUseDx11CaptureMode() bool   { return l.call("SetUseDx11CaptureMode") }
func (l *dllLibrary) SetDisableFileLog() bool       { return l.call("SetDisableFileLog") }

func (l *dllLibrary) GetTransformOfMap(x, y, a *float64, mapID *int32) bool {
	return l.call("GetTransformOfMap",
		uintptr(unsafe.Pointer(x)),
		uintptr(unsafe.Pointer(y)),
		uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(mapID)),
	)
}

func (l *dllLibrary) GetRotation(r *float64) bool {
	return l.call("GetRotation", uintptr(unsafe.Pointer(r)))
}

func (l *dllLibrary) GetLastErrorJSON(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	n, _, _ := l.procs["GetLastErrJson"].Call(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return int(int32(n))
}

func (l *dllLibrary) GetCompileVersion(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return l.call("GetCompileVersion", uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
}

func (l *dllLibrary) GetCompileTime(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return l.call("GetCompileTime", uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
}

func (l *dllLibrary) Close() error {
	return l.dll.Release()
}
