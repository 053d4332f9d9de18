//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package nattraversal

import (
	"context"
	"log/slog"
	"runtime"
)

// discover is a stub for platforms without gateway discovery.
// Returns nil, nil: no pairs can be found.
//
// This includes platforms like:
// - iOS (no shell access)
// - Plan 9
// - js/wasm
// - Other less common platforms
func (d *Discoverer) discover(ctx context.Context) ([]GatewayPair, error) {
	slog.Debug("gateway discovery not implemented", "os", runtime.GOOS)
	return nil, nil
}
