// Package common provides the structured logger shared by every toolmesh process.
package common

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"
)

// Logger wraps arbor.ILogger to provide a consistent interface
type Logger struct {
	arbor.ILogger
}

// LoggingConfig selects writers and rotation for a process logger.
type LoggingConfig struct {
	Level      string
	Outputs    []string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// discardWriter implements writers.IWriter and discards all output.
// Used by NewSilentLogger to prevent dispatch to globally-registered writers.
type discardWriter struct{}

func (w *discardWriter) Write(p []byte) (int, error)           { return len(p), nil }
func (w *discardWriter) WithLevel(_ log.Level) writers.IWriter { return w }
func (w *discardWriter) GetFilePath() string                   { return "" }
func (w *discardWriter) Close() error                          { return nil }

// NewLogger creates a console + file logger at the given level.
func NewLogger(level string) *Logger {
	return NewLoggerFromConfig(LoggingConfig{
		Level:   level,
		Outputs: []string{"console", "file"},
	})
}

// NewLoggerFromConfig creates a logger configured from LoggingConfig.
// Supports console (stderr), file, and memory writers.
func NewLoggerFromConfig(cfg LoggingConfig) *Logger {
	level := cfg.Level
	if level == "" {
		level = "info"
	}

	l := arbor.NewLogger()

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"console"}
	}

	for _, out := range outputs {
		switch out {
		case "console":
			l = l.WithConsoleWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeConsole,
				Writer:     os.Stderr,
				TimeFormat: "2006-01-02T15:04:05Z07:00",
			})
		case "file":
			filePath := cfg.FilePath
			if filePath == "" {
				filePath = "logs/toolmesh.log"
			}
			maxSize := int64(cfg.MaxSizeMB) * 1024 * 1024
			if maxSize <= 0 {
				maxSize = 500 * 1024
			}
			maxBackups := cfg.MaxBackups
			if maxBackups <= 0 {
				maxBackups = 20
			}
			l = l.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filePath,
				MaxSize:    maxSize,
				MaxBackups: maxBackups,
				TimeFormat: "2006-01-02T15:04:05Z07:00",
			})
		}
	}

	// Memory writer is always on so recent entries can be inspected.
	l = l.WithMemoryWriter(models.WriterConfiguration{
		Type: models.LogWriterTypeMemory,
	}).WithLevelFromString(level)

	return &Logger{ILogger: l}
}

// NewSilentLogger creates a logger that discards all output.
func NewSilentLogger() *Logger {
	arborLogger := arbor.NewLogger().WithWriters([]writers.IWriter{&discardWriter{}})
	return &Logger{ILogger: arborLogger}
}

// Capture records every event written to a capture logger.
type Capture struct {
	mu      sync.Mutex
	entries []models.LogEvent
}

func (c *Capture) Write(p []byte) (int, error) {
	var ev models.LogEvent
	if err := json.Unmarshal(p, &ev); err == nil {
		c.mu.Lock()
		c.entries = append(c.entries, ev)
		c.mu.Unlock()
	}
	return len(p), nil
}
func (c *Capture) WithLevel(_ log.Level) writers.IWriter { return c }
func (c *Capture) GetFilePath() string                   { return "" }
func (c *Capture) Close() error                          { return nil }

// Entries returns the recorded events in write order.
func (c *Capture) Entries() []models.LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.LogEvent(nil), c.entries...)
}

// Find returns the first recorded event with the given message.
func (c *Capture) Find(message string) (models.LogEvent, bool) {
	for _, ev := range c.Entries() {
		if ev.Message == message {
			return ev, true
		}
	}
	return models.LogEvent{}, false
}

// NewCaptureLogger creates a logger that keeps every event, at every level,
// for inspection by tests.
func NewCaptureLogger() (*Logger, *Capture) {
	c := &Capture{}
	return &Logger{ILogger: arbor.NewLogger().WithWriters([]writers.IWriter{c})}, c
}

// WithCorrelationId returns a new Logger with a correlation ID set.
func (l *Logger) WithCorrelationId(id string) *Logger {
	return &Logger{ILogger: l.ILogger.WithCorrelationId(id)}
}

