package tracing

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// UserIDKey is the context key for the acting Telegram user
	UserIDKey ContextKey = "user_id"
	// LaneKey is the context key for the command queue lane a task runs on
	LaneKey ContextKey = "lane"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	UserID  int64
	Lane    string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithUserID adds the acting user to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLane adds a queue lane to the context
func WithLane(ctx context.Context, lane string) context.Context {
	return context.WithValue(ctx, LaneKey, lane)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetUserID retrieves the acting user from the context, 0 when absent
func GetUserID(ctx context.Context) int64 {
	if userID, ok := ctx.Value(UserIDKey).(int64); ok {
		return userID
	}
	return 0
}

// GetLane retrieves the queue lane from the context
func GetLane(ctx context.Context) string {
	if lane, ok := ctx.Value(LaneKey).(string); ok {
		return lane
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		UserID:  GetUserID(ctx),
		Lane:    GetLane(ctx),
	}
}

// NewRequestContext starts a request for userID with a fresh trace ID.
func NewRequestContext(ctx context.Context, userID int64) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	if userID != 0 {
		ctx = WithUserID(ctx, userID)
	}
	return ctx
}

// LoggerFromContext adds the tracing fields present in ctx to baseLogger.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.UserID != 0 {
		lc = lc.Str("user_id", strconv.FormatInt(tc.UserID, 10))
	}
	if tc.Lane != "" {
		lc = lc.Str("lane", tc.Lane)
	}

	return lc.Logger()
}
