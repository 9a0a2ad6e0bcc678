package debug

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (selected device, accepted frames)
	LevelLive    = 2 // Live info (attempts, state changes)
	LevelVerbose = 3 // Verbose (commands, candidate probing, sweep results)
	LevelTrace   = 4 // Trace (GPIO, raw command output)
)

var (
	level  int
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (device, accepted frame, analysis length)
// 2 = live info (attempts, retries, state transitions)
// 3 = verbose (native commands, normalizer probing, sweeps)
// 4 = trace (GPIO, raw command output)
func Init(debugLevel int) {
	level = debugLevel
}

// SetOutput redirects debug output (e.g. to the web broadcaster).
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// AddHook forwards every emitted entry to h as well (e.g. the web broadcaster).
func AddHook(h logrus.Hook) {
	logger.AddHook(h)
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// Fields is an alias so callers need not import logrus.
type Fields = logrus.Fields

// WithFields returns a structured entry gated at the live level.
// The returned entry discards output when the level is below LevelLive.
func WithFields(fields Fields) *logrus.Entry {
	if level < LevelLive {
		return logrus.NewEntry(discard)
	}
	return logger.WithFields(fields)
}

// WithError is WithFields for a pipeline error, gated at the live level.
func WithError(err error) *logrus.Entry {
	if level < LevelLive {
		return logrus.NewEntry(discard)
	}
	return logger.WithError(err)
}

var discard = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// --- Level 1 functions (Info) ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Infof(format, args...)
	}
}

// Value prints a named value (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.WithField(name, value).Info("value")
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo {
		logger.WithError(err).Error("error")
	}
}

// --- Level 2 functions (Live) ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.Infof(format, args...)
	}
}

// Attempt prints a capture attempt transition (level 2).
func Attempt(sessionID string, attempt, maxAttempts int, state string) {
	WithFields(Fields{
		"session": sessionID,
		"attempt": attempt,
		"max":     maxAttempts,
	}).Info(state)
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.Debugf(format, args...)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debugf("━━━━━━━━ %s ━━━━━━━━", name)
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace) ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{"pin": pin, "value": value}).Trace(operation)
	}
}
