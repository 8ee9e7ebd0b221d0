// File: internal/iolog/log.go
//
// Generalizes the teacher's bare log.Printf("[facade] ...", ...)
// call sites (facade/hioload.go) into a component-tagged logger shared
// by every package in this module, still backed by the standard log
// package — the teacher never reaches for a structured logging library,
// so neither do we.
package iolog

import "log"

// Logger prefixes every line with a component tag, matching the
// teacher's "[component] message" convention.
type Logger struct {
	component string
}

// New returns a Logger tagged with component, e.g. "ioloop", "iochannel".
func New(component string) Logger {
	return Logger{component: component}
}

func (l Logger) Printf(format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{l.component}, args...)...)
}

func (l Logger) Debugf(format string, args ...any) {
	if !Verbose {
		return
	}
	log.Printf("[%s] "+format, append([]any{l.component}, args...)...)
}

// Verbose gates Debugf output across the whole runtime. It is a package
// variable rather than per-Logger state because the teacher's own
// verbosity control (facade Config) is similarly global.
var Verbose = false
