package debug

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DebugHeader marks the start of a traced step if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		zap.L().Debug("=== DEBUG START ===")
	}
}

// DebugFooter marks the end of a traced step if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		zap.L().Debug("=== DEBUG END ===")
	}
}

// DebugOutput writes a formatted trace line if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		zap.L().Debug(fmt.Sprintf(format, args...))
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	zap.L().Debug("starting", zap.String("operation", operation))

	return func() {
		zap.L().Debug("completed",
			zap.String("operation", operation),
			zap.Duration("took", time.Since(start)),
		)
	}
}
