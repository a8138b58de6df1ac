// Package logger exposes the project-wide logr.Logger, backed by zerolog.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	root logr.Logger
	set  bool
)

// GetLogger returns the root logger, creating it on first use.
func GetLogger() logr.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !set {
		root = newLogger("info")
		set = true
	}
	return root
}

// SetLevel rebuilds the root logger with the given zerolog level name.
// Loggers already derived with WithName keep their old level.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	root = newLogger(level)
	set = true
}

func newLogger(level string) logr.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	return zerologr.New(&zl)
}
