//go:build !linux

package userns

import (
	"context"
	"fmt"
)

// Bootstrap is unsupported outside Linux; user namespaces are a
// Linux-specific kernel feature.
func Bootstrap(_ context.Context, _ []string) (int, error) {
	return 0, fmt.Errorf("user namespace bootstrap is not supported on this platform")
}

// WaitForReady is a no-op on platforms where Bootstrap is unsupported.
func WaitForReady() error { return nil }
