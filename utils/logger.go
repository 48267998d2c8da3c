package utils

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions mirrors the logging section of the application config
type LogOptions struct {
	Output     string // stdout, file, both
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// NewLogger builds a component logger writing to stdout and/or a rotating file.
// The returned closer releases the file handle and is never nil.
func NewLogger(opts LogOptions, prefix string) (*log.Logger, io.Closer) {
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC
	if opts.Output == "stdout" || opts.FilePath == "" {
		return log.New(os.Stdout, prefix, flags), io.NopCloser(nil)
	}

	if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
		l := log.New(os.Stdout, prefix, flags)
		l.Printf("logger: failed to create log directory, falling back to stdout: %v", err)
		return l, io.NopCloser(nil)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}

	var w io.Writer = rotator
	if opts.Output != "file" {
		w = io.MultiWriter(os.Stdout, rotator)
	}
	return log.New(w, prefix, flags), rotator
}
