package goLinkAuth

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/MrEthical07/goLinkAuth/internal/records"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	PrincipalID string            `json:"principal_id,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel. Tests read from it.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// ZapSink logs events through a zap logger at info (success) or warn level.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event AuditEvent) {
	fields := []zap.Field{
		zap.String("event", event.EventType),
		zap.String("principal_id", event.PrincipalID),
		zap.String("session_id", event.SessionID),
		zap.String("ip", event.IP),
		zap.Bool("success", event.Success),
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error_code", event.Error))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	if event.Success {
		s.logger.Info("auth event", fields...)
		return
	}
	s.logger.Warn("auth event", fields...)
}

// EventRecorder persists audit records. *sqlstore.Store implements it.
type EventRecorder interface {
	InsertEvent(ctx context.Context, ev records.AuthEvent) error
}

// SQLSink persists events to the auth_events table. Write failures are
// logged and dropped.
type SQLSink struct {
	store   EventRecorder
	logger  *zap.Logger
	timeout time.Duration
}

func NewSQLSink(store EventRecorder, logger *zap.Logger) *SQLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLSink{store: store, logger: logger, timeout: 5 * time.Second}
}

func (s *SQLSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.store.InsertEvent(ctx, records.AuthEvent{
		OccurredAt:  event.Timestamp,
		EventType:   event.EventType,
		PrincipalID: event.PrincipalID,
		SessionID:   event.SessionID,
		IP:          event.IP,
		Success:     event.Success,
		ErrorCode:   event.Error,
		Metadata:    event.Metadata,
	})
	if err != nil {
		s.logger.Error("persist audit event", zap.String("event", event.EventType), zap.Error(err))
	}
}

// MultiSink fans events out to several sinks in order.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
