// Package observability records the audit trail of operator actions and
// completed sequences.
package observability

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // Telegram user id
	Action    string                 `json:"action"`          // e.g., "channel_added", "sequence_completed"
	Status    string                 `json:"status"`          // "success", "partial", "failure"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger handles recording and persisting audit events
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewAuditLogger writes audit events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLogger appends audit events to the file at path.
func OpenAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.file = file
	return a, nil
}

// Record emits an audit event to the log file and optionally to OpenTelemetry
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// RecordChannelMutation implements fsub.MutationRecorder
func (a *AuditLogger) RecordChannelMutation(ctx context.Context, action string, actor int64, ch fsub.Channel) {
	metadata := map[string]interface{}{"channel_id": ch.ID}
	if ch.Title != "" {
		metadata["title"] = ch.Title
	}
	if ch.Username != "" {
		metadata["username"] = ch.Username
	}

	a.Record(ctx, AuditEvent{
		Type:     "registry",
		Actor:    strconv.FormatInt(actor, 10),
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordSequence logs the outcome of a replayed sequence.
func (a *AuditLogger) RecordSequence(ctx context.Context, owner int64, report *sequence.Report) {
	status := "success"
	switch {
	case report.Delivered == 0:
		status = "failure"
	case len(report.Failures) > 0 || report.StatsErr != nil:
		status = "partial"
	}

	failed := make([]int, 0, len(report.Failures))
	for _, f := range report.Failures {
		failed = append(failed, f.Position)
	}

	a.Record(ctx, AuditEvent{
		Type:   "sequence",
		Actor:  strconv.FormatInt(owner, 10),
		Action: "sequence_completed",
		Status: status,
		Metadata: map[string]interface{}{
			"session_id":      report.SessionID,
			"items":           len(report.Ordered),
			"delivered":       report.Delivered,
			"failed_position": failed,
			"duration_ms":     report.Duration.Milliseconds(),
		},
	})
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
