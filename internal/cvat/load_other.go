//go:build !windows

package cvat

import "fmt"

func loadLibrary(_, path string) (Library, error) {
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
}
