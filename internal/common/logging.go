package common

import (
	"log"
	"os"
	"sync/atomic"
)

var (
	logger = log.New(os.Stderr, "[flightlog] ", log.LstdFlags|log.Lmicroseconds)

	debugEnabled atomic.Bool
)

// SetDebug toggles debug-level logging process-wide.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

func Logf(format string, args ...interface{}) {
	logger.Printf(format, args...)
}

// Debugf logs only when debug logging has been enabled.
func Debugf(format string, args ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	logger.Printf("DEBUG "+format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf(format, args...)
}
