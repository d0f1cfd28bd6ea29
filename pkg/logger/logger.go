package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cfengine-go/agentcore/internal/evalctx"
)

// Logger is a wrapper around logrus.Logger
type Logger struct {
	*logrus.Logger
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePrefix string `mapstructure:"file_prefix"`
}

// New creates a new logger instance
func New(cfg LoggingConfig) *Logger {
	// Create logger
	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Set log format
	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	// Set log output
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.FilePrefix == "" {
			cfg.FilePrefix = "cf-agent"
		}
		// Ensure the logs directory exists
		logDir := "logs"
		err := os.MkdirAll(logDir, 0755)
		if err != nil {
			logger.Errorf("Failed to create logs directory: %v", err)
		} else {
			logPath := filepath.Join(logDir, cfg.FilePrefix+".log")
			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				logger.Errorf("Failed to open log file: %v", err)
			} else {
				logger.SetOutput(io.MultiWriter(os.Stdout, file))
			}
		}
	default:
		// Use stdout by default
		logger.SetOutput(os.Stdout)
	}

	return &Logger{
		Logger: logger,
	}
}

// NewDefault creates a new logger instance with default configuration
func NewDefault(name string) *Logger {
	// Create logger with default configuration
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger: logger,
	}
}

// WithField returns a new log entry with a field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithPromise tags a log entry with the promise handle and promiser
// value the actuation pipeline is currently acting on.
func (l *Logger) WithPromise(handle, promiser string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"promise_handle": handle,
		"promiser":       promiser,
	})
}

// WithKVHandle tags a log entry with the name of the open KV database
// handle involved (e.g. "cf_lock", "cf_state").
func (l *Logger) WithKVHandle(name string) *logrus.Entry {
	return l.Logger.WithField("kv_handle", name)
}

// WithPeerKey tags a log entry with the peer identity key involved in a
// lastseen or wire-protocol operation.
func (l *Logger) WithPeerKey(peerKey string) *logrus.Entry {
	return l.Logger.WithField("peer_key", peerKey)
}

// LogOutcome emits the "[ YES/NO ]"-prefixed promise outcome line (spec
// §7) at a level selected by the outcome: Change/Fail log at
// Warn/Error, NoOp at Info, Skipped at Debug.
func (l *Logger) LogOutcome(handle, promiser string, outcome evalctx.Outcome, verb string) {
	entry := l.WithPromise(handle, promiser).WithField("outcome", outcome.String())
	prefix := "[ NO  ]"
	if outcome == evalctx.Change || outcome == evalctx.NoOp {
		prefix = "[ YES ]"
	}
	line := prefix + " " + promiser + ": " + verb

	switch outcome {
	case evalctx.Fail:
		entry.Error(line)
	case evalctx.Change, evalctx.Warn:
		entry.Warn(line)
	case evalctx.NoOp:
		entry.Info(line)
	default:
		entry.Debug(line)
	}
}
