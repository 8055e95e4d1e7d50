package logging

import (
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the logger writes.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a structured key/value logger. It writes JSON to stderr so the
// stdio MCP transport keeps stdout to itself.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a Logger at info level writing to stderr.
func NewLogger() *Logger {
	return New(Options{Level: "info"})
}

// New creates a Logger from opts. When opts.File is set, output is also
// written to a size-rotated file.
func New(opts Options) *Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if opts.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return &Logger{sugar: zap.New(core).Sugar()}
}

// FromZap wraps an existing zap logger, e.g. one built on an observer core.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.Sugar()}
}

// NewNop returns a Logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger that always includes the given key/values.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// StdLogger returns a standard library logger that writes through l at
// error level, for libraries that only accept *log.Logger.
func (l *Logger) StdLogger() *log.Logger {
	std, err := zap.NewStdLogAt(l.sugar.Desugar(), zapcore.ErrorLevel)
	if err != nil {
		return zap.NewStdLog(l.sugar.Desugar())
	}
	return std
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// MaskChar replaces the hidden part of a secret.
const MaskChar = '*'

// Mask hides a secret for display: the first and last two characters are
// kept and everything in between is replaced. Values of four characters or
// fewer are masked entirely.
func Mask(secret string) string {
	n := len([]rune(secret))
	switch {
	case n == 0:
		return ""
	case n <= 4:
		return strings.Repeat(string(MaskChar), n)
	}
	r := []rune(secret)
	return string(r[:2]) + strings.Repeat(string(MaskChar), n-4) + string(r[n-2:])
}
