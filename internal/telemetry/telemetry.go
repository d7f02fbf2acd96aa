// Package telemetry wraps the standard logger with the bracket-tag
// convention used throughout the engine's background jobs ([engine],
// [broadcaster], [rpc] — mirroring the teacher's [gRPC] and
// [broadcaster] tags).
package telemetry

import (
	"log"
	"os"
)

// Logger prefixes every line with a fixed component tag.
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger writing to stderr, tagged as "[tag]".
func New(tag string) *Logger {
	return &Logger{
		tag: tag,
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf("["+l.tag+"] "+format, args...)
}

func (l *Logger) Println(args ...any) {
	l.std.Println(append([]any{"[" + l.tag + "]"}, args...)...)
}
