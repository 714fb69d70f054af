/*
Package logging wraps the standard library's log.Logger with per-component
prefixes and a debug gate, matching the teacher corpus's plain log.Printf
style (google-deps.dev uses no external logging framework anywhere, gated by
a package-level "debug" const; see npm/resolve.go and maven/resolve.go).
*/
package logging

import (
	"log"
	"os"
	"sync/atomic"
)

// Debug enables Debugf output globally. Off by default; cmd/bundle sets it
// from its -debug flag.
var Debug atomic.Bool

// Logger is a component-scoped logger.
type Logger struct {
	prefix string
	std    *log.Logger
}

// For creates a Logger prefixed with component, e.g. "resolve", "fetch".
func For(component string) *Logger {
	return &Logger{
		prefix: "[" + component + "] ",
		std:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Debugf logs only when Debug is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if !Debug.Load() {
		return
	}
	l.std.Printf(l.prefix+format, args...)
}

// Infof always logs.
func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(l.prefix+format, args...)
}

// Warnf always logs, prefixed with "WARN".
func (l *Logger) Warnf(format string, args ...any) {
	l.std.Printf(l.prefix+"WARN: "+format, args...)
}

// Errorf always logs, prefixed with "ERROR".
func (l *Logger) Errorf(format string, args ...any) {
	l.std.Printf(l.prefix+"ERROR: "+format, args...)
}
