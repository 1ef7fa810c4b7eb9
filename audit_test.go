package goLinkAuth

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	seen    atomic.Int32
}

func (s *blockingSink) Emit(context.Context, AuditEvent) {
	<-s.release
	s.seen.Add(1)
}

type panickingSink struct{ calls atomic.Int32 }

func (s *panickingSink) Emit(context.Context, AuditEvent) {
	s.calls.Add(1)
	panic("sink exploded")
}

func TestAuditDispatcherDisabled(t *testing.T) {
	if d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{}, nil); d != nil {
		t.Fatal("disabled config must not start a dispatcher")
	}
	var d *auditDispatcher
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	core, logs := observer.New(zap.WarnLevel)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zap.New(core))

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "e"})
	}
	close(sink.release)
	d.Close()

	// One event may sit in the sink and one in the buffer.
	if d.Dropped() < 8 {
		t.Fatalf("expected at least 8 drops, got %d", d.Dropped())
	}
	if int(sink.seen.Load())+int(d.Dropped()) != 10 {
		t.Fatalf("delivered plus dropped must equal emitted, got %d + %d", sink.seen.Load(), d.Dropped())
	}
	if logs.FilterMessage("audit buffer full, dropping events").Len() != 1 {
		t.Fatal("expected a single drop warning")
	}
}

func TestAuditDispatcherBlockingRespectsContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: false}, sink, nil)
	defer func() {
		close(sink.release)
		d.Close()
	}()

	d.Emit(context.Background(), AuditEvent{EventType: "first"})
	d.Emit(context.Background(), AuditEvent{EventType: "second"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, AuditEvent{EventType: "third"})
	if time.Since(start) > time.Second {
		t.Fatal("emit must return once the context ends")
	}
}

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	sink := &panickingSink{}
	core, logs := observer.New(zap.ErrorLevel)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink, zap.New(core))

	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	d.Emit(context.Background(), AuditEvent{EventType: "b"})
	d.Close()

	if sink.calls.Load() != 2 {
		t.Fatalf("expected both events delivered, got %d", sink.calls.Load())
	}
	if logs.FilterMessage("audit sink panicked").Len() != 2 {
		t.Fatal("expected panics to be logged")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp:   testEpoch,
		EventType:   auditEventMagicLinkConsumed,
		PrincipalID: "u-1",
		Success:     true,
	})

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid json line %q: %v", line, err)
	}
	if decoded["event_type"] != auditEventMagicLinkConsumed || decoded["principal_id"] != "u-1" {
		t.Fatalf("unexpected payload %v", decoded)
	}
	if _, ok := decoded["error"]; ok {
		t.Fatal("empty error must be omitted")
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: "ok", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "bad", Error: string(auditErrInvalidCode)})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v / %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error_code"] != "invalid_code" {
		t.Fatalf("expected error_code field, got %v", entries[1].ContextMap())
	}
}

func TestSQLSinkPersistsEvents(t *testing.T) {
	h := newHarness(t)
	sink := NewSQLSink(h.store, nil)

	sink.Emit(context.Background(), AuditEvent{
		Timestamp:   testEpoch,
		EventType:   auditEventLogoutAll,
		PrincipalID: alice.ID,
		Success:     true,
		Metadata:    map[string]string{"sessions": "2"},
	})

	events, err := h.store.RecentEvents(context.Background(), alice.ID, 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != auditEventLogoutAll || events[0].Metadata["sessions"] != "2" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	ch := NewChannelSink(4)
	rec := &recordingSink{}
	sink := MultiSink{ch, nil, rec}

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogoutSession})

	select {
	case e := <-ch.Events():
		if e.EventType != auditEventLogoutSession {
			t.Fatalf("unexpected event %q", e.EventType)
		}
	default:
		t.Fatal("channel sink received nothing")
	}
	if rec.count(auditEventLogoutSession) != 1 {
		t.Fatal("recording sink received nothing")
	}
}
