package logging

import (
	"context"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

// otelHandler emits slog records through the global OTel logger provider,
// which exports them over OTLP once telemetry is set up.
type otelHandler struct {
	logger otellog.Logger
	level  slog.Level
	attrs  []otellog.KeyValue
	prefix string
}

func newOTelHandler(scope string, level slog.Level) *otelHandler {
	return &otelHandler{logger: global.GetLoggerProvider().Logger(scope), level: level}
}

func (h *otelHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level
}

func (h *otelHandler) Handle(ctx context.Context, r slog.Record) error {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(h.keyValue(a))
		return true
	})
	h.logger.Emit(ctx, rec)
	return nil
}

func (h *otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.attrs = append(make([]otellog.KeyValue, 0, len(h.attrs)+len(attrs)), h.attrs...)
	for _, a := range attrs {
		out.attrs = append(out.attrs, h.keyValue(a))
	}
	return &out
}

func (h *otelHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.prefix = h.prefix + name + "."
	return &out
}

func (h *otelHandler) keyValue(a slog.Attr) otellog.KeyValue {
	key := h.prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return otellog.Bool(key, v.Bool())
	case slog.KindInt64:
		return otellog.Int64(key, v.Int64())
	case slog.KindUint64:
		return otellog.Int64(key, int64(v.Uint64())) //nolint:gosec // counters stay far below MaxInt64
	case slog.KindFloat64:
		return otellog.Float64(key, v.Float64())
	default:
		return otellog.String(key, v.String())
	}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}
