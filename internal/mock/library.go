// Package mock provides a synthetic vision library so the daemon can run
// end to end without the real DLL.
package mock

import (
	"errors"
	"math"
	"sync"
)

// Pattern selects how the synthetic player behaves.
type Pattern string

const (
	// Steady walks a circle and never fails.
	Steady Pattern = "steady"
	// Flaky walks a circle but fails every FailEvery-th position query.
	Flaky Pattern = "flaky"
	// Lost never finds the game window.
	Lost Pattern = "lost"
)

// DefaultErrorJSON is what the library reports when the game window is gone.
const DefaultErrorJSON = `{"errorList":[{"code":10,"msg":"无效句柄或指定句柄所指向窗口不存在"}]}`

// Calls counts invocations of each export.
type Calls struct {
	Init      int
	Uninit    int
	Transform int
	Rotation  int
	Close     int
	Bitblt    int
	Dx11      int
}

// Library implements cvat.Library in memory.
type Library struct {
	mu sync.Mutex

	Pattern   Pattern
	FailEvery int
	FailInit  bool
	ErrorJSON string
	Version   string
	BuildTime string

	centerX, centerY float64
	radius           float64
	mapID            int32
	tick             int
	calls            Calls
	lastErr          string
	closed           bool
}

// NewLibrary returns a steady library centred on the Mondstadt origin.
func NewLibrary(pattern Pattern) *Library {
	if pattern == "" {
		pattern = Steady
	}
	return &Library{
		Pattern:   pattern,
		FailEvery: 4,
		ErrorJSON: DefaultErrorJSON,
		Version:   "7.0.0-mock",
		BuildTime: "2024-01-01 00:00:00",
		centerX:   -1620,
		centerY:   380,
		radius:    120,
	}
}

// Calls returns a snapshot of the call counters.
func (l *Library) Calls() Calls {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *Library) Init() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Init++
	if l.FailInit {
		l.lastErr = l.ErrorJSON
		return false
	}
	return true
}

func (l *Library) Uninit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Uninit++
	return true
}

func (l *Library) SetUseBitbltCaptureMode() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Bitblt++
	return true
}

func (l *Library) SetUseDx11CaptureMode() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Dx11++
	return true
}

func (l *Library) SetDisableFileLog() bool { return true }

func (l *Library) GetTransformOfMap(x, y, a *float64, mapID *int32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Transform++
	l.tick++

	switch l.Pattern {
	case Lost:
		l.lastErr = l.ErrorJSON
		return false
	case Flaky:
		if l.FailEvery > 0 && l.tick%l.FailEvery == 0 {
			l.lastErr = l.ErrorJSON
			return false
		}
	}

	theta := float64(l.tick) / 20.0
	*x = l.centerX + l.radius*math.Cos(theta)
	*y = l.centerY + l.radius*math.Sin(theta)
	*a = math.Mod(theta*180/math.Pi+90, 360)
	*mapID = l.mapID
	return true
}

func (l *Library) GetRotation(r *float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Rotation++
	if l.Pattern == Lost {
		l.lastErr = l.ErrorJSON
		return false
	}
	*r = math.Mod(float64(l.tick)*3, 360)
	return true
}

func (l *Library) GetLastErrorJSON(buf []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copy(buf, l.lastErr)
}

func (l *Library) GetCompileVersion(buf []byte) bool {
	return copy(buf, l.Version) > 0
}

func (l *Library) GetCompileTime(buf []byte) bool {
	return copy(buf, l.BuildTime) > 0
}

func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls.Close++
	if l.closed {
		return errors.New("mock library already released")
	}
	l.closed = true
	return nil
}
