// Package corelog provides the runtime's structured, package-qualified
// logging surface. Every subsystem logs through here instead of calling
// fmt.Println or the standard log package directly.
package corelog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global verbosity. Accepts "debug", "info", "warn", "error".
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		Errorf("corelog", "invalid log level %q: %v", level, err)
		return
	}
	std.SetLevel(lvl)
}

// Debugf logs a debug-level message tagged with the emitting subsystem.
func Debugf(tag string, format string, args ...any) {
	std.WithField("tag", tag).Debugf(format, args...)
}

// Infof logs an info-level message tagged with the emitting subsystem.
func Infof(tag string, format string, args ...any) {
	std.WithField("tag", tag).Infof(format, args...)
}

// Errorf logs an error-level message tagged with the emitting subsystem.
// It never returns an error itself -- callers still propagate a Result or
// error value; this only records the fact for operators.
func Errorf(tag string, format string, args ...any) {
	std.WithField("tag", tag).Errorf(format, args...)
}

// Fatalf logs at error level and aborts the process. Reserved for
// inconsistent-state programmer errors (double free, mutex released by
// non-owner, etc.) -- never for ordinary fallible paths.
func Fatalf(tag string, format string, args ...any) {
	std.WithField("tag", tag).Fatalf(format, args...)
}
