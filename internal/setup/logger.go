package setup

import (
	"log/slog"
	"sync/atomic"

	"github.com/cochaviz/rootbake/internal/logging"
)

var packageLogger atomic.Pointer[slog.Logger]

// SetLogger replaces the logger used by the host checks; nil restores the
// process default.
func SetLogger(logger *slog.Logger) {
	packageLogger.Store(logger)
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger.Load())
}
