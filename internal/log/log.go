// Package log provides the process-wide structured logger used across batyrd,
// plus a job-scoped variant that tags every line with the job that produced
// it, since a single daemon process runs many jobs concurrently across its
// worker pool and lines from different jobs otherwise interleave with
// nothing to tell them apart.
package log

import (
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

var current atomic.Value // logr.Logger

func init() {
	zapLog, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	current.Store(zapr.NewLogger(zapLog))
}

// Logger returns the current global logger. Safe to call concurrently with
// SetLogger, since serve.go swaps the development logger for a production
// one before any worker goroutine starts.
func Logger() logr.Logger {
	return current.Load().(logr.Logger)
}

// SetLogger replaces the global logger, e.g. with a production zap config at startup.
func SetLogger(l logr.Logger) {
	current.Store(l)
}

// Configure rebuilds the global logger from a zap config appropriate to the
// named environment. "production" gets zap's JSON production encoder;
// anything else keeps the human-readable development console encoder.
func Configure(environment, name string) error {
	var zapLog *zap.Logger
	var err error
	if environment == "production" {
		zapLog, err = zap.NewProduction()
	} else {
		zapLog, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	SetLogger(zapr.NewLogger(zapLog).WithName(name))
	return nil
}

// ForJob returns a logger tagged with the given job id, so every line a
// worker emits while running that job can be grepped out of a shared log
// stream without threading the id through every call by hand.
func ForJob(jobID string) logr.Logger {
	return Logger().WithValues("job", jobID)
}

func Info(msg string, keysAndValues ...interface{}) {
	Logger().Info(msg, keysAndValues...)
}

func Debug(msg string, keysAndValues ...interface{}) {
	Logger().V(1).Info(msg, keysAndValues...)
}

func Error(err error, msg string, keysAndValues ...interface{}) {
	Logger().Error(err, msg, keysAndValues...)
}

func WithName(name string) logr.Logger {
	return Logger().WithName(name)
}

func WithValues(keysAndValues ...interface{}) logr.Logger {
	return Logger().WithValues(keysAndValues...)
}
