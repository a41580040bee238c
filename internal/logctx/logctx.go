package logctx

import (
	"context"
	"log/slog"
)

// Handler enriches records with request-scoped context: the session being
// served, the reconciliation sweep in flight, and the tool being invoked.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("target_id", sd.TargetID),
		))
	}

	if sw, ok := ctx.Value(sweepDataKey{}).(*SweepData); ok {
		r.AddAttrs(slog.Group("sweep",
			slog.String("id", sw.SweepID),
		))
	}

	if td, ok := ctx.Value(toolCallDataKey{}).(*ToolCallData); ok {
		r.AddAttrs(slog.Group("tool",
			slog.String("name", td.ToolName),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

type SessionData struct {
	SessionID string
	TargetID  string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type sweepDataKey struct{}

type SweepData struct {
	SweepID string
}

func WithSweepData(ctx context.Context, data *SweepData) context.Context {
	return context.WithValue(ctx, sweepDataKey{}, data)
}

type toolCallDataKey struct{}

type ToolCallData struct {
	ToolName string
}

func WithToolCallData(ctx context.Context, data *ToolCallData) context.Context {
	return context.WithValue(ctx, toolCallDataKey{}, data)
}
