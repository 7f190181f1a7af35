// Package logging provides structured logging for Tillpoint.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// global logger instance
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. Format is "json" or "text".
func Init(out io.Writer, level string, format string) {
	once.Do(func() {
		global = logrus.New()
		global.SetOutput(out)
		global.SetLevel(parseLevel(level))

		if strings.EqualFold(format, "json") {
			global.SetFormatter(&logrus.JSONFormatter{})
		} else {
			global.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	})
}

// Get returns the global logger instance.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, "info", "json")
	}
	return global
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// Debug logs a debug message with optional context fields.
func Debug(message string, context map[string]interface{}) {
	Get().WithFields(logrus.Fields(context)).Debug(message)
}

// Info logs an info message with optional context fields.
func Info(message string, context map[string]interface{}) {
	Get().WithFields(logrus.Fields(context)).Info(message)
}

// Warn logs a warning message with optional context fields.
func Warn(message string, context map[string]interface{}) {
	Get().WithFields(logrus.Fields(context)).Warn(message)
}

// Error logs an error message with optional context fields.
func Error(message string, err error, context map[string]interface{}) {
	entry := Get().WithFields(logrus.Fields(context))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}

// ErrorWithCode logs an error message with an application error code attached.
func ErrorWithCode(message string, code string, err error, context map[string]interface{}) {
	entry := Get().WithFields(logrus.Fields(context)).WithField("error_code", code)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(message)
}
