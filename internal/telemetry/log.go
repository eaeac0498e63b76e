// Package telemetry provides structured logging and metrics shared
// across the engine's subsystems: a thin zerolog wrapper scaled down to
// what a library (not a daemon) needs: component sub-loggers, no global
// mutable level, no file-output plumbing.
package telemetry

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	base     zerolog.Logger
	baseOnce sync.Once
)

func root() zerolog.Logger {
	baseOnce.Do(func() {
		base = zerolog.New(defaultWriter()).With().Timestamp().Logger()
	})
	return base
}

func defaultWriter() io.Writer {
	return os.Stderr
}

// SetOutput replaces the base logger so that loggers obtained from
// Component after the call write to w. Loggers obtained earlier,
// including the package-level loggers of the engine's packages, keep
// writing to their original output. Never called by engine code itself.
func SetOutput(w io.Writer) {
	base = zerolog.New(w).With().Timestamp().Logger()
}

// Component returns a logger tagged with the given subsystem name, one
// per call site the way WithComponent works in cuemby-warren.
func Component(name string) zerolog.Logger {
	return root().With().Str("component", name).Logger()
}
