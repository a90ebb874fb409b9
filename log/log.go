// Package log provides leveled logging for the executor and its tools.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is the interface for leveled logging.
type Logger interface {
	// Printf prints a formatted message to the log.
	Printf(format string, v ...interface{})

	// Print prints a message to the log.
	Print(v ...interface{})

	// Enabled returns true if messages at this logger's level are written.
	Enabled() bool
}

// Level represents the log level.
type Level int

const (
	// DebugLevel reports every state transition and executed instruction.
	DebugLevel Level = iota
	// InfoLevel reports forks, terminations and summaries.
	InfoLevel
	// ErrorLevel reports faults only.
	ErrorLevel
	// DisabledLevel silences all output.
	DisabledLevel
)

var levelNames = [...]string{
	DebugLevel:    "debug",
	InfoLevel:     "info",
	ErrorLevel:    "error",
	DisabledLevel: "off",
}

// String returns the name of the level.
func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level<%d>", int(l))
}

var (
	// Debug is a debug-level logger.
	Debug Logger = &logger{level: DebugLevel, prefix: "DEBUG "}
	// Info is an info-level logger.
	Info Logger = &logger{level: InfoLevel, prefix: "INFO "}
	// Error is an error-level logger.
	Error Logger = &logger{level: ErrorLevel, prefix: "ERROR "}
)

var mu sync.RWMutex

var current = struct {
	level Level
	out   *log.Logger
}{
	level: InfoLevel,
	out:   log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds),
}

type logger struct {
	level  Level
	prefix string
}

func (l *logger) Printf(format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l.level >= current.level {
		current.out.Output(2, l.prefix+fmt.Sprintf(format, v...))
	}
}

func (l *logger) Print(v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l.level >= current.level {
		current.out.Output(2, l.prefix+fmt.Sprint(v...))
	}
}

func (l *logger) Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return l.level >= current.level
}

// CurrentLevel returns the current logging level.
func CurrentLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current.level
}

// SetLevel sets the current logging level.
func SetLevel(level Level) {
	mu.Lock()
	current.level = level
	mu.Unlock()
}

// SetLevelByName sets the current logging level with a name.
func SetLevelByName(name string) error {
	switch strings.ToLower(name) {
	case "debug":
		SetLevel(DebugLevel)
	case "info", "":
		SetLevel(InfoLevel)
	case "error":
		SetLevel(ErrorLevel)
	case "off", "disabled":
		SetLevel(DisabledLevel)
	default:
		return fmt.Errorf("unknown log level: %q", name)
	}
	return nil
}

// SetOutput redirects all loggers to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	current.out.SetOutput(w)
	mu.Unlock()
}
