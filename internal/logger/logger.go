// Package logger provides structured logging for cargowhy using zap.
//
// Logs never go to stdout unless asked to: stdout carries the report.
package logger

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gookit/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dbsmedya/cargowhy/internal/config"
	"github.com/dbsmedya/cargowhy/internal/unit"
)

// Logger wraps zap.SugaredLogger with diagnostic context methods.
type Logger struct {
	*zap.SugaredLogger
	base *zap.Logger
}

// New creates a Logger from configuration. An output file that cannot be
// opened is an error.
func New(cfg *config.LoggingConfig) (*Logger, error) {
	writer, toFile, err := buildWriter(cfg.Output)
	if err != nil {
		return nil, err
	}
	encoder := buildEncoder(cfg.Format, !toFile && color.SupportColor())

	core := zapcore.NewCore(encoder, writer, parseLevel(cfg.Level))
	base := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{SugaredLogger: base.Sugar(), base: base}, nil
}

// NewDefault creates a Logger at warn level writing text to stderr, the
// settings of an unconfigured run.
func NewDefault() *Logger {
	logger, err := New(&config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	if err != nil {
		return NewNop()
	}
	return logger
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{SugaredLogger: base.Sugar(), base: base}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// buildEncoder returns a JSON encoder, or a console encoder whose levels
// are coloured only when colored is set.
func buildEncoder(format string, colored bool) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}

	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if colored {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// buildWriter opens the log destination. toFile reports a file output.
func buildWriter(output string) (ws zapcore.WriteSyncer, toFile bool, err error) {
	switch output {
	case "stderr", "":
		return zapcore.Lock(os.Stderr), false, nil
	case "stdout":
		return zapcore.Lock(os.Stdout), false, nil
	}
	file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), true, nil
}

// WithRun returns a Logger tagged with a diagnostic run.
func (l *Logger) WithRun(runID string) *Logger {
	return l.with("run", runID)
}

// WithUnit returns a Logger tagged with a compilation unit and its profile.
func (l *Logger) WithUnit(id unit.ID) *Logger {
	return l.with("unit", id.String(), "profile", id.Profile)
}

// Named returns a Logger for a component, such as "cargo".
func (l *Logger) Named(component string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(component), base: l.base.Named(component)}
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...), base: l.base}
}

// DebugEnabled reports whether debug entries are written.
func (l *Logger) DebugEnabled() bool {
	return l.base.Core().Enabled(zapcore.DebugLevel)
}

// LineWriter returns a writer that logs every line written to it at debug
// level, for mirroring cargo's output into the log. Close logs a final
// line that has no newline.
func (l *Logger) LineWriter() *LineWriter {
	return &LineWriter{log: l.SugaredLogger}
}

// LineWriter is the writer returned by Logger.LineWriter. It is safe for
// concurrent use.
type LineWriter struct {
	log *zap.SugaredLogger
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write logs each complete line of p and keeps the rest.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		w.emit(string(w.buf.Next(i + 1)))
	}
}

// Close logs what is left of an unterminated line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.log.Debugw("cargo output", "line", line)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}
