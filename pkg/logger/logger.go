package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ContextKey string

const (
	// RequestIDKey carries the X-Request-ID of an outgoing call.
	RequestIDKey ContextKey = "requestID"
	// AttemptKey carries the 1-indexed attempt number of an outgoing call.
	AttemptKey ContextKey = "attempt"
)

func init() {
	RegisterContextKey(RequestIDKey, "request_id")
	RegisterContextKey(AttemptKey, "attempt")
}

type LogManager interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)

	DebugF(format string, args ...any)
	InfoF(format string, args ...any)
	WarnF(format string, args ...any)
	ErrorF(format string, args ...any)

	DebugFCtx(ctx context.Context, format string, args ...any)
	InfoFCtx(ctx context.Context, format string, args ...any)
	WarnFCtx(ctx context.Context, format string, args ...any)
	ErrorFCtx(ctx context.Context, format string, args ...any)

	// Infow logs a message with structured key/value pairs.
	Infow(msg string, keyValues ...any)
	// Debugw logs a message with structured key/value pairs.
	Debugw(msg string, keyValues ...any)

	With(keyValues ...any) LogManager
	Named(name string) LogManager

	Sync() error
	SetLogLevel(level string) error
}

// LoggerOptions for custom configuration
type LoggerOptions struct {
	Level        string
	Encoding     string // "json" or "console"
	OutputPaths  []string
	ErrorPaths   []string
	EnableCaller bool
	EnableStack  bool
	TimeFormat   string
}

// NewLogger creates a new netkit logger with options
func NewLogger(opts LoggerOptions) (LogManager, error) {
	atomicLevel := zap.NewAtomicLevel()

	if err := atomicLevel.UnmarshalText([]byte(opts.Level)); err != nil {
		atomicLevel.SetLevel(zap.InfoLevel)
	}

	if opts.Encoding == "" {
		opts.Encoding = "console"
	}
	if len(opts.OutputPaths) == 0 {
		opts.OutputPaths = []string{"stderr"}
	}
	if len(opts.ErrorPaths) == 0 {
		opts.ErrorPaths = []string{"stderr"}
	}

	encodeLevel := zapcore.CapitalColorLevelEncoder
	if opts.Encoding == "json" {
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:       "time",
		LevelKey:      "level",
		NameKey:       "logger",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   encodeLevel,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			if opts.TimeFormat != "" {
				enc.AppendString(t.Format(opts.TimeFormat))
			} else {
				enc.AppendString(t.Format(time.RFC3339))
			}
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if opts.EnableCaller {
		encoderCfg.CallerKey = "caller"
	}

	cfg := zap.Config{
		Level:            atomicLevel,
		Development:      opts.Level == "debug",
		Encoding:         opts.Encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: opts.ErrorPaths,
	}

	buildOpts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if opts.EnableStack {
		buildOpts = []zap.Option{zap.AddStacktrace(zap.WarnLevel)}
	}

	zapLogger, err := cfg.Build(buildOpts...)
	if err != nil {
		return nil, err
	}

	return &logger{
		Log:         zapLogger.Sugar(),
		atomicLevel: atomicLevel,
	}, nil
}

// FromZap adapts an existing zap logger.
func FromZap(z *zap.Logger) LogManager {
	return &logger{
		Log:         z.Sugar(),
		atomicLevel: zap.NewAtomicLevelAt(z.Level()),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() LogManager {
	return FromZap(zap.NewNop())
}

// OrNop returns l, or a discard logger when l is nil.
func OrNop(l LogManager) LogManager {
	if l == nil {
		return NewNop()
	}
	return l
}

// MustNewDefaultLogger creates a console logger at info level
func MustNewDefaultLogger() LogManager {
	logger, err := NewLogger(LoggerOptions{
		Level:        "info",
		Encoding:     "console",
		EnableCaller: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	return logger
}
