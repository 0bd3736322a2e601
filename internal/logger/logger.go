// Package logger provides the structured logging facade used across the
// cluster core. It wraps a single process-wide logrus.Logger so that every
// component logs through the same formatter and output.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Ctx carries structured fields attached to a single log line.
type Ctx map[string]any

var std = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the minimum level logged, e.g. "debug", "trace".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(lvl)
	return nil
}

func entry(ctx Ctx) *logrus.Entry {
	if len(ctx) == 0 {
		return logrus.NewEntry(std)
	}
	return std.WithFields(logrus.Fields(ctx))
}

func Trace(msg string, ctx ...Ctx) { entry(merge(ctx)).Trace(msg) }
func Debug(msg string, ctx ...Ctx) { entry(merge(ctx)).Debug(msg) }
func Info(msg string, ctx ...Ctx)  { entry(merge(ctx)).Info(msg) }
func Warn(msg string, ctx ...Ctx)  { entry(merge(ctx)).Warn(msg) }
func Error(msg string, ctx ...Ctx) { entry(merge(ctx)).Error(msg) }

// Fatal logs at fatal level and terminates the process. Reserved for
// invariant violations that must not be silently tolerated.
func Fatal(msg string, ctx ...Ctx) { entry(merge(ctx)).Fatal(msg) }

func merge(ctxs []Ctx) Ctx {
	if len(ctxs) == 0 {
		return nil
	}
	if len(ctxs) == 1 {
		return ctxs[0]
	}
	out := Ctx{}
	for _, c := range ctxs {
		for k, v := range c {
			out[k] = v
		}
	}
	return out
}
