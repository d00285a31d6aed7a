// Package recovery provides panic recovery for the bridge's pump goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/orbitalsys/telebridge/internal/logging"
)

// RecoverWithLog recovers from a panic and logs it. A panicking pump must
// not take down the whole bridge: the sibling direction keeps forwarding.
//
// Deferred at the top of each pump goroutine:
//
//	defer recovery.RecoverWithLog(logger, "bridge.outboundPump")
func RecoverWithLog(logger *slog.Logger, component string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			logging.KeyComponent, component,
			logging.KeyError, fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
	}
}

// RecoverWithCallback recovers from a panic, logs it, and invokes callback
// with the recovered value for cleanup or metrics reporting.
func RecoverWithCallback(logger *slog.Logger, component string, callback func(recovered any)) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			logging.KeyComponent, component,
			logging.KeyError, fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()))
		if callback != nil {
			callback(r)
		}
	}
}
