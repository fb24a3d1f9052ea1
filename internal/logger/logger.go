// Package logger configures the global logrus logger.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"cropsight/config"

	log "github.com/sirupsen/logrus"
)

// logFile is the optional file sink, held so Close can release it on shutdown
var logFile *os.File

// Init initializes the global logger from the log configuration
func Init(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	// Stdout always receives the log for container runs; a file is additional
	writers := []io.Writer{os.Stdout}
	if file := openLogFile(cfg.File); file != nil {
		logFile = file
		writers = append(writers, file)
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.Info("Logger initialized")
	return nil
}

// Close flushes and releases the log file sink, if one was opened
func Close() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		log.Errorf("Failed to close log file: %v", err)
	}
	logFile = nil
}

// openLogFile opens the configured log file for appending. A failure here
// only costs the file sink, never the logger itself.
func openLogFile(path string) *os.File {
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		log.Errorf("Failed to create log directory for '%s': %v", path, err)
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		log.Errorf("Failed to open log file '%s': %v", path, err)
		return nil
	}

	log.Infof("Logging additionally to file: %s", path)
	return file
}
