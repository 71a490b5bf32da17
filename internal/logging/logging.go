// Package logging provides the server log: a rolling file when serving,
// stderr otherwise, with debug output gated by SHOPFLOOR_DEBUG.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.Mutex
	out     io.Writer = os.Stderr
	roller  *lumberjack.Logger
	debug   = os.Getenv("SHOPFLOOR_DEBUG") != ""
	verbose = false
)

// SetVerbose turns debug output on regardless of the environment.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Enabled reports whether debug output is active.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return debug || verbose
}

// UseFile switches output to a rolling log file at path. Rotation keeps
// a handful of compressed backups.
func UseFile(path string) {
	mu.Lock()
	defer mu.Unlock()
	roller = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	out = roller
}

// Close flushes and closes the rolling file if one is active.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if roller == nil {
		return nil
	}
	err := roller.Close()
	roller = nil
	out = os.Stderr
	return err
}

// Logf writes one timestamped log line.
func Logf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s %s\n",
		time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Debugf writes a log line only when debug output is active.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	on := debug || verbose
	mu.Unlock()
	if on {
		Logf("DEBUG "+format, args...)
	}
}
