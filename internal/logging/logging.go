// Package logging builds the logrus logger shared by the binaries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr. level is any logrus level name, or
// "off" to discard output; unknown levels fall back to info. format is "text"
// or "json".
func New(level, format string) *logrus.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	switch strings.ToLower(level) {
	case "off", "none":
		logger.SetOutput(io.Discard)
	default:
		l, err := logrus.ParseLevel(level)
		if err != nil {
			l = logrus.InfoLevel
		}
		logger.SetLevel(l)
	}

	if strings.ToLower(format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return logger
}
