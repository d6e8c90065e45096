package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	FieldEvent     = "event"
	FieldSubsystem = "subsystem"
	Subsystem      = "third/perspective_api"
)

type Config struct {
	Level string `mapstructure:"level"`
	// File, when set, receives log lines through an AsyncFileWriter and
	// stderr keeps a synchronous copy.
	File string `mapstructure:"file"`
	// BufferSize is the bufio size of the async file writer.
	BufferSize int `mapstructure:"buffer_size"`
}

// NewLogger builds the JSON logrus logger shared by every component. The returned
// close function flushes and releases the log file, if any.
func NewLogger(cfg Config) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})

	level := cfg.Level
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	logger.SetLevel(ParseLevel(level))
	logger.SetOutput(os.Stderr)

	if cfg.File == "" {
		return logger, func() {}, nil
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}
	writer, err := NewAsyncFileWriter(cfg.File, bufferSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize async log writer: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, writer))

	return logger, writer.Close, nil
}

// ParseLevel maps LOG_LEVEL values onto logrus levels; unknown values mean info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewNopLogger discards everything; handy for tests and for hosts that wire their own sink.
func NewNopLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
