// Package logging constructs the single *logrus.Logger each role process
// uses. One configured *logrus.Logger is passed into every handler
// rather than relying on package-level logging globals.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger for a role ("gateway", "matchmaker", "session-runner",
// "reaper", "capacity-provider"), honoring LOG_LEVEL and LOG_FORMAT.
func New(role, level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

// WithRole returns a *logrus.Entry tagged with the role name, the
// convention every role's main() uses before passing the entry down into
// its loop.
func WithRole(logger *logrus.Logger, role string) *logrus.Entry {
	return logger.WithField("role", role)
}
