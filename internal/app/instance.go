package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// FindOtherInstance looks for another running process with the same
// executable name as this one and returns its pid.
func FindOtherInstance(ctx context.Context) (int32, bool, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, false, fmt.Errorf("locating executable: %w", err)
	}
	return findProcess(ctx, filepath.Base(exe), int32(os.Getpid()))
}

func findProcess(ctx context.Context, name string, self int32) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("listing processes: %w", err)
	}
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		// Processes may exit or deny access while we iterate.
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(pname, name) {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}
