// Package logger wraps zap behind a small package-level accessor and a
// log/slog bridge, so
// call sites can use either the sugared zap API or slog.
package logger

import (
	"log/slog"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the global logger. Zero value is a sane stdout,
// info-level default.
type Options struct {
	Level       string // debug|info|warn|error
	Format      string // json|console
	ServiceName string
	ToStdout    bool
	ToFile      bool
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init builds the global logger from opts and installs it as the
// default slog logger too, so packages that prefer slog get the same
// sinks and level.
func Init(opts Options) {
	level := parseLevel(opts.Level)

	var writers []zapcore.WriteSyncer
	if opts.ToStdout || (!opts.ToStdout && !opts.ToFile) {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if opts.ToFile && opts.FilePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}))
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	l := zap.New(core, zap.AddCaller())
	if opts.ServiceName != "" {
		l = l.With(zap.String("service", opts.ServiceName))
	}

	mu.Lock()
	global = l
	mu.Unlock()

	slog.SetDefault(slog.New(zapslogHandler{logger: l}))
}

func firstNonZero(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L returns the global zap logger, falling back to a bare stdout
// logger if Init was never called (e.g. in tests).
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}
