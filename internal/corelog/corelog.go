// Package corelog is the thin logging wrapper every other package in this
// module calls through, mirroring the teacher's own direct use of the
// standard library log package with a details flag gating verbose output.
package corelog

import (
	"log"
	"os"
)

// Logger writes prefixed lines to the standard library's log package.
// Debug output is gated by ShowDetails so a quiet run stays quiet.
type Logger struct {
	ShowDetails bool
	out         *log.Logger
}

// New creates a Logger writing to stderr with the given prefix.
func New(prefix string) *Logger {
	return &Logger{out: log.New(os.Stderr, prefix, log.LstdFlags)}
}

// Debug logs v only when ShowDetails is set.
func (l *Logger) Debug(v ...interface{}) {
	if l.ShowDetails {
		l.out.Println(v...)
	}
}

// Warn always logs v, prefixed as a warning.
func (l *Logger) Warn(v ...interface{}) {
	l.out.Println(append([]interface{}{"WARNING:"}, v...)...)
}

// Error always logs v, prefixed as an error.
func (l *Logger) Error(v ...interface{}) {
	l.out.Println(append([]interface{}{"ERROR:"}, v...)...)
}
