package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with redaction and file rotation.
type Logger struct {
	logger   zerolog.Logger
	rotator  *RotatingWriter
	redactor *Redactor
}

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty disables file output
	Console   bool   // enable console output on stderr
	Pretty    bool   // human-readable console format
	Redaction bool   // mask credentials before any sink sees them
	MaxSizeMB int    // rotate the file once it exceeds this size
	MaxAgeDays int   // remove rotated files older than this
	Compress  bool   // gzip rotated files
}

// DefaultConfig returns the standard logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		Pretty:     true,
		Redaction:  true,
		MaxSizeMB:  50,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// New builds a logger from cfg and installs it as the zerolog global.
// Console output goes to stderr so interactive commands keep stdout for
// their own rendering.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, console)
	}

	var rotator *RotatingWriter
	if cfg.File != "" {
		rotator, err = NewRotatingWriter(cfg.File, cfg.MaxSizeMB, cfg.MaxAgeDays, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, rotator)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		rotator:  rotator,
		redactor: redactor,
	}, nil
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// For returns a child logger tagged with a component name.
func (l *Logger) For(component string) zerolog.Logger {
	return l.logger.With().Str("comp", component).Logger()
}

// Debug starts a debug-level event.
func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }

// Info starts an info-level event.
func (l *Logger) Info() *zerolog.Event { return l.logger.Info() }

// Warn starts a warn-level event.
func (l *Logger) Warn() *zerolog.Event { return l.logger.Warn() }

// Error starts an error-level event.
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// Fatal starts a fatal-level event; the event's Msg exits the process.
func (l *Logger) Fatal() *zerolog.Event { return l.logger.Fatal() }

// With opens a child logger context.
func (l *Logger) With() zerolog.Context { return l.logger.With() }

// GetZerolog returns the underlying zerolog.Logger.
func (l *Logger) GetZerolog() zerolog.Logger { return l.logger }
