// Package logging is a small leveled logger modeled directly on the
// teacher's pkg/logging: a Logger that is safe to call with a nil
// receiver, dotted Sublogger prefixes, and colorized Warn/Error output.
// Unlike the teacher it exposes a runtime-adjustable Level threshold
// (LevelInfo unless SetLevel is called; no configuration field sets it)
// instead of gating only debug output on a single package-level bool,
// since the engine's
// "trace" level (individual USN records, per-command dirty
// recomputation) is too noisy to ever want unconditionally.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"sync/atomic"

	"github.com/fatih/color"
)

var threshold int32 = int32(LevelInfo)

// SetLevel adjusts the package-wide log level threshold, which starts at
// LevelInfo. Nothing in config.Preferences sets it.
func SetLevel(l Level) {
	atomic.StoreInt32(&threshold, int32(l))
}

func enabled(l Level) bool {
	return Level(atomic.LoadInt32(&threshold)) >= l
}

// writer is an io.Writer that splits its input stream into lines and
// writes those lines to an underlying logger.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it
// still functions if nil, but it doesn't log anything. It is built on
// the standard library's log package, so it respects any flags set for
// that logger. It is safe for concurrent use.
type Logger struct {
	prefix string
}

// RootLogger is the root logger from which all other loggers derive.
var RootLogger = &Logger{}

// Sublogger creates a new sublogger with the specified name appended to
// this logger's dotted prefix (e.g. "engine" -> "engine.drivemonitor").
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(calldepth, line)
}

// Print logs information with semantics equivalent to fmt.Print.
func (l *Logger) Print(v ...interface{}) {
	if l != nil && enabled(LevelInfo) {
		l.output(3, fmt.Sprint(v...))
	}
}

// Printf logs information with semantics equivalent to fmt.Printf.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil && enabled(LevelInfo) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Println logs information with semantics equivalent to fmt.Println.
func (l *Logger) Println(v ...interface{}) {
	if l != nil && enabled(LevelInfo) {
		l.output(3, fmt.Sprintln(v...))
	}
}

// Writer returns an io.Writer that writes lines using Println.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Println(s) }}
}

// Debug logs information with semantics equivalent to fmt.Print, gated
// on the Debug level.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && enabled(LevelDebug) {
		l.output(3, fmt.Sprint(v...))
	}
}

// Debugf logs information with semantics equivalent to fmt.Printf, gated
// on the Debug level.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && enabled(LevelDebug) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Tracef logs information with semantics equivalent to fmt.Printf, gated
// on the Trace level (individual USN records, per-command dirty
// recomputation).
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l != nil && enabled(LevelTrace) {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// DebugWriter returns an io.Writer that writes lines using Debug, gated
// on the Debug level.
func (l *Logger) DebugWriter() io.Writer {
	if l == nil || !enabled(LevelDebug) {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.output(3, s) }}
}

// Warn logs error information with a warning prefix and yellow color.
func (l *Logger) Warn(err error) {
	if l != nil && enabled(LevelWarn) {
		l.output(3, color.YellowString("Warning: %v", err))
	}
}

// Warnf formats and logs a warning with a yellow "Warning:" prefix.
func (l *Logger) Warnf(format string, v ...interface{}) {
	if l != nil && enabled(LevelWarn) {
		l.output(3, color.YellowString("Warning: "+format, v...))
	}
}

// Error logs error information with an error prefix and red color.
func (l *Logger) Error(err error) {
	if l != nil && enabled(LevelError) {
		l.output(3, color.RedString("Error: %v", err))
	}
}

// Errorf formats and logs an error with a red "Error:" prefix.
func (l *Logger) Errorf(format string, v ...interface{}) {
	if l != nil && enabled(LevelError) {
		l.output(3, color.RedString("Error: "+format, v...))
	}
}
