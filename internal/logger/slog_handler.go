package logger

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapslogHandler adapts a *zap.Logger to the slog.Handler interface so
// packages that prefer the standard library's structured logging API
// still land on the same sinks as the sugared zap call sites.
type zapslogHandler struct {
	logger *zap.Logger
	attrs  []zap.Field
}

func (h zapslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(toZapLevel(level))
}

func (h zapslogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, record.NumAttrs()+len(h.attrs))
	fields = append(fields, h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		fields = append(fields, zap.Any(a.Key, a.Value.Any()))
		return true
	})
	ce := h.logger.Check(toZapLevel(record.Level), record.Message)
	if ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h zapslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	extra := make([]zap.Field, 0, len(attrs))
	for _, a := range attrs {
		extra = append(extra, zap.Any(a.Key, a.Value.Any()))
	}
	return zapslogHandler{logger: h.logger, attrs: append(append([]zap.Field{}, h.attrs...), extra...)}
}

func (h zapslogHandler) WithGroup(name string) slog.Handler {
	return zapslogHandler{logger: h.logger.Named(name), attrs: h.attrs}
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
