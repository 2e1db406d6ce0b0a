// Package log is a thin leveled, colorized wrapper over glog, the logging
// library the teacher proxy uses directly. It adds the level-gating and
// color control the CLI surface needs (--log-level, --disable-colors)
// following the prefix-per-level table shape of
// ClusterCockpit-cc-backend/pkg/log/log.go, while leaving actual line
// emission to glog.
package log

import (
	"fmt"
	"os"

	"github.com/golang/glog"
)

// Level is one of the five levels the CLI's --log-level flag accepts.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

var names = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"success": LevelSuccess,
	"warning": LevelWarning,
	"error":   LevelError,
}

// ParseLevel maps a --log-level flag value to a Level, defaulting to
// LevelInfo for an unrecognized string.
func ParseLevel(s string) Level {
	if l, ok := names[s]; ok {
		return l
	}
	return LevelInfo
}

type colorCode string

const (
	colorGray   colorCode = "\x1b[90m"
	colorBlue   colorCode = "\x1b[34m"
	colorGreen  colorCode = "\x1b[32m"
	colorYellow colorCode = "\x1b[33m"
	colorRed    colorCode = "\x1b[31m"
	colorReset  colorCode = "\x1b[0m"
)

var prefixes = map[Level]struct {
	tag   string
	color colorCode
}{
	LevelDebug:   {"DEBUG", colorGray},
	LevelInfo:    {"INFO", colorBlue},
	LevelSuccess: {"SUCCESS", colorGreen},
	LevelWarning: {"WARNING", colorYellow},
	LevelError:   {"ERROR", colorRed},
}

// Logger gates glog output by a configured minimum level and optionally
// colorizes the level tag. The zero value logs every level (its minimum is
// LevelDebug) without color.
type Logger struct {
	min         Level
	colors      bool
	dumpQueries bool
	dumpBuffer  bool
}

// New returns a Logger at the given minimum level with color and dump
// toggles as configured by the CLI.
func New(min Level, colors, dumpQueries, dumpBuffer bool) *Logger {
	return &Logger{min: min, colors: colors, dumpQueries: dumpQueries, dumpBuffer: dumpBuffer}
}

func (l *Logger) enabled(lv Level) bool {
	return lv >= l.min
}

func (l *Logger) tag(lv Level) string {
	p := prefixes[lv]
	if !l.colors {
		return "[" + p.tag + "] "
	}
	return string(p.color) + "[" + p.tag + "]" + string(colorReset) + " "
}

func (l *Logger) log(lv Level, format string, args ...any) {
	if !l.enabled(lv) {
		return
	}
	msg := l.tag(lv) + fmt.Sprintf(format, args...)
	switch lv {
	case LevelError:
		glog.ErrorDepth(1, msg)
	case LevelWarning:
		glog.WarningDepth(1, msg)
	default:
		glog.InfoDepth(1, msg)
	}
}

func (l *Logger) Debugf(format string, args ...any)   { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Successf(format string, args ...any) { l.log(LevelSuccess, format, args...) }
func (l *Logger) Warningf(format string, args ...any) { l.log(LevelWarning, format, args...) }
func (l *Logger) Errorf(format string, args ...any)   { l.log(LevelError, format, args...) }

// DumpQuery logs a parsed command's arguments at debug level when
// --dump-queries is set.
func (l *Logger) DumpQuery(clientID uint64, args [][]byte) {
	if !l.dumpQueries {
		return
	}
	l.Debugf("client %d query: %q", clientID, args)
}

// DumpBuffer logs a raw byte buffer at debug level when --dump-buffer is
// set.
func (l *Logger) DumpBuffer(label string, buf []byte) {
	if !l.dumpBuffer {
		return
	}
	l.Debugf("%s buffer (%d bytes): %q", label, len(buf), buf)
}

// Fatalf logs at error level and exits the process, used only during
// startup/bootstrap failures (spec.md §6: exit 1 on config/startup failure).
func (l *Logger) Fatalf(format string, args ...any) {
	l.Errorf(format, args...)
	os.Exit(1)
}
