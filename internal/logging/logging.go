// Package logging builds the per-area loggers used across the daemon, with
// size-based rotation for the on-disk log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kincareapp/kincare/internal/config"
)

// Factory hands out loggers sharing one rotated log file.
type Factory struct {
	out io.Writer
}

// NewFactory creates a logger factory. When cfg.File is empty, loggers
// write to stderr only; otherwise output goes to both stderr and the
// rotated file.
func NewFactory(cfg config.Log) *Factory {
	if cfg.File == "" {
		return &Factory{out: os.Stderr}
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Factory{out: io.MultiWriter(os.Stderr, rotated)}
}

// Logger returns a logger with the "[area] " prefix convention.
func (f *Factory) Logger(area string) *log.Logger {
	return log.New(f.out, "["+area+"] ", log.LstdFlags)
}
