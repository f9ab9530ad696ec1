package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogCategory represents different log categories
type LogCategory string

const (
	CategoryDownloads LogCategory = "downloads" // Registry lifecycle events (JSON)
	CategoryError     LogCategory = "error"     // Application errors (JSON)
)

const dateLayout = "20060102"

type categoryLogger struct {
	logger *zap.Logger
	file   *os.File
	level  zapcore.Level
}

// MultiLogger writes categorized JSON logs into one dated file per category,
// switching files when the day changes
type MultiLogger struct {
	config MultiLoggerConfig
	now    func() time.Time

	mu          sync.Mutex
	loggers     map[LogCategory]*categoryLogger
	currentDate string
}

// MultiLoggerConfig contains configuration for multi-output logging
type MultiLoggerConfig struct {
	Level   string // debug, info, warn, error
	LogsDir string // Directory for log files
}

// NewMultiLogger creates a new multi-output logger
func NewMultiLogger(config MultiLoggerConfig) (*MultiLogger, error) {
	if config.LogsDir == "" {
		return nil, fmt.Errorf("logs_dir must be specified")
	}
	if err := os.MkdirAll(config.LogsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	ml := &MultiLogger{
		config: config,
		now:    time.Now,
		loggers: map[LogCategory]*categoryLogger{
			CategoryDownloads: {level: level},
			CategoryError:     {level: zapcore.ErrorLevel},
		},
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if err := ml.openAll(ml.now().Format(dateLayout)); err != nil {
		return nil, err
	}
	return ml, nil
}

// openAll must be called with ml.mu held
func (ml *MultiLogger) openAll(date string) error {
	for category, cl := range ml.loggers {
		path := filepath.Join(ml.config.LogsDir, fmt.Sprintf("%s-%s.log", category, date))
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open %s log: %w", category, err)
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "ts"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.CallerKey = ""

		if cl.file != nil {
			cl.logger.Sync()
			cl.file.Close()
		}
		cl.file = file
		cl.logger = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), cl.level))
	}
	ml.currentDate = date
	return nil
}

// GetLogger returns the logger of a category, rotating files on a new day
func (ml *MultiLogger) GetLogger(category LogCategory) *zap.Logger {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if date := ml.now().Format(dateLayout); date != ml.currentDate {
		if err := ml.openAll(date); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	if cl, ok := ml.loggers[category]; ok {
		return cl.logger
	}
	return ml.loggers[CategoryError].logger
}

// GetLogsDir returns the logs directory path
func (ml *MultiLogger) GetLogsDir() string {
	return ml.config.LogsDir
}

// LogDownloadEvent logs a registry lifecycle event with structured data
func (ml *MultiLogger) LogDownloadEvent(event string, fields ...zap.Field) {
	ml.GetLogger(CategoryDownloads).Info(event, fields...)
}

// LogAppError logs an application-level error
func (ml *MultiLogger) LogAppError(msg string, fields ...zap.Field) {
	ml.GetLogger(CategoryError).Error(msg, fields...)
}

// Close flushes and closes every category file
func (ml *MultiLogger) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var lastErr error
	for _, cl := range ml.loggers {
		if cl.file == nil {
			continue
		}
		cl.logger.Sync()
		if err := cl.file.Close(); err != nil {
			lastErr = err
		}
		cl.file = nil
	}
	return lastErr
}
