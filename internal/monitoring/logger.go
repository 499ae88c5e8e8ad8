// Package monitoring owns the console's diagnostic logging.
//
// Components obtain a prefixed structured logger with Logger("component").
// Printf-style call sites that predate the structured logger go through Logf,
// which may be replaced or muted with SetLogger.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	baseMu  sync.RWMutex
	base              = newBase(os.Stderr, log.InfoLevel)
	out     io.Writer = os.Stderr
	level             = log.InfoLevel
	derived []*log.Logger
)

func newBase(w io.Writer, lvl log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	})
}

// Logf is the package-level printf-style logger. It defaults to the base
// logger at info level but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// SetLogger replaces the package Logf. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Configure sets the output and level name ("debug", "info", "warn",
// "error") of the base logger and of every component logger handed out so far.
func Configure(w io.Writer, levelName string) error {
	lvl := log.InfoLevel
	if levelName != "" {
		parsed, err := log.ParseLevel(levelName)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", levelName, err)
		}
		lvl = parsed
	}
	if w == nil {
		w = os.Stderr
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	out, level = w, lvl
	base = newBase(w, lvl)
	for _, l := range derived {
		l.SetOutput(w)
		l.SetLevel(lvl)
	}
	return nil
}

// Logger returns a logger that tags every line with the component prefix.
// It follows later calls to Configure.
func Logger(component string) *log.Logger {
	baseMu.Lock()
	defer baseMu.Unlock()
	l := newBase(out, level)
	l.SetPrefix(component)
	derived = append(derived, l)
	return l
}

func current() *log.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}
