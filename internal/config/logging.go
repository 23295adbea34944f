package config

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging fans component loggers out to one rotating log file.
type Logging struct {
	file *lumberjack.Logger
	out  io.Writer
}

// OpenLogging sets up the log file described by cfg. The file is created
// lazily on first write.
func OpenLogging(cfg *Config) *Logging {
	file := &lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	var out io.Writer = file
	if cfg.Log.Verbose {
		out = io.MultiWriter(file, os.Stderr)
	}
	return &Logging{file: file, out: out}
}

// Logger returns a logger prefixed with [component].
func (l *Logging) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Close closes the log file.
func (l *Logging) Close() error {
	return l.file.Close()
}
