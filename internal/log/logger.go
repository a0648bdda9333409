// Package log provides the worker's structured logger. Entries are
// JSON lines bound to the run id, written to logs/worker.log.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger carrying run context.
type Logger struct {
	zap  *zap.Logger
	file *os.File
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// OpenRunLogger creates a logger appending to the run's worker log.
func OpenRunLogger(path string, runID string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := newWithWriter(f, runID)
	l.file = f
	return l, nil
}

// NewWithWriter creates a logger for an arbitrary sink; used by tests.
func NewWithWriter(w io.Writer, runID string) *Logger {
	return newWithWriter(w, runID)
}

func newWithWriter(w io.Writer, runID string) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return &Logger{zap: zap.New(core).With(zap.String("run_id", runID))}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.zap.Debug(msg, zap.Any("fields", fields)) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.zap.Info(msg, zap.Any("fields", fields)) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.zap.Warn(msg, zap.Any("fields", fields)) }
func (l *Logger) Error(msg string, fields map[string]any) { l.zap.Error(msg, zap.Any("fields", fields)) }

// Level logs at a program-supplied level name, defaulting to info.
func (l *Logger) Level(level string, msg string, fields map[string]any) {
	switch level {
	case "debug":
		l.Debug(msg, fields)
	case "warn", "warning":
		l.Warn(msg, fields)
	case "error":
		l.Error(msg, fields)
	default:
		l.Info(msg, fields)
	}
}

func (l *Logger) Close() error {
	_ = l.zap.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
