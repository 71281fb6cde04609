// Package logging builds the per-process logrus logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Options configures New.
type Options struct {
	// File is opened append-only in addition to Stderr. Empty disables it.
	File  string
	Level string
	JSON  bool
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger and the closer of its log file.
//
// A log file that cannot be opened is reported on the returned logger and
// logging continues on Stderr alone.
func New(opts Options) (*logrus.Logger, io.Closer) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(stderr)
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			log.WithError(err).Warn("unknown log level, using info")
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)

	if opts.File == "" {
		return log, nopCloser{}
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.WithError(err).WithField("file", opts.File).Warn("cannot open log file, logging to stderr only")
		return log, nopCloser{}
	}
	log.SetOutput(io.MultiWriter(stderr, f))
	return log, f
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
