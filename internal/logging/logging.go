// Package logging is a thin wrapper around the standard log package,
// tagging every line with a component name. No example in the pack wires
// a structured third-party logger into a comparable daemon, so this stays
// on the standard library, matching the teacher's log.Printf idiom.
package logging

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag.
type Logger struct {
	tag string
	l   *log.Logger
}

// New returns a Logger tagged with component, writing to stderr with the
// standard date/time prefix.
func New(component string) *Logger {
	return &Logger{
		tag: component,
		l:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (lg *Logger) Printf(format string, args ...any) {
	lg.l.Printf("[%s] "+format, prepend(lg.tag, args)...)
}

func (lg *Logger) Println(args ...any) {
	lg.l.Println(prepend("["+lg.tag+"]", args)...)
}

// Milestone logs a daemon-lifecycle line as-is, without the component
// tag. Nothing in the tree calls it; cmd/browserd writes its startup and
// shutdown lines through the standard log package.
func (lg *Logger) Milestone(line string) {
	lg.l.Println(line)
}

func prepend(first any, rest []any) []any {
	out := make([]any, 0, len(rest)+1)
	out = append(out, first)
	out = append(out, rest...)
	return out
}
