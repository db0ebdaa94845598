// Package logging builds the loggers the rest of the program uses. Each
// subsystem gets a bracketed prefix so interleaved output stays readable.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes. An empty File logs to stderr.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New returns a logger writing to stderr, or to a size-rotated file when
// opts.File is set. The prefix should name the subsystem, e.g. "[server] ".
func New(prefix string, opts Options) *log.Logger {
	return log.New(writer(opts), prefix, log.LstdFlags)
}

func writer(opts Options) io.Writer {
	if opts.File == "" {
		return os.Stderr
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: opts.MaxBackups,
	}
}
