package logger

import (
	"context"
	"log/slog"
)

type attrsKey struct{}

// ContextWithAttrs returns a copy of ctx carrying attrs. Every record logged
// with the returned context through a logger built by New gets them appended,
// after any attrs already stored by an outer call.
func ContextWithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	prev := AttrsFromContext(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// AttrsFromContext returns the attrs stored by ContextWithAttrs.
func AttrsFromContext(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(attrsKey{}).([]slog.Attr)
	return attrs
}

// contextHandler appends the attrs stored by ContextWithAttrs to every record.
type contextHandler struct {
	next slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if attrs := AttrsFromContext(ctx); len(attrs) > 0 {
		rec.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{next: h.next.WithGroup(name)}
}
