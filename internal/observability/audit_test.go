package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	if !cfg.Enabled {
		t.Fatal("expected enabled by default")
	}
	if cfg.OutputPath != "stderr" {
		t.Fatalf("expected stderr, got %s", cfg.OutputPath)
	}
}

func TestAuditLogger_New_File(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	l, err := NewAuditLogger(&AuditConfig{
		Enabled:    true,
		OutputPath: logPath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("expected log file to be created")
	}
}

func TestAuditLogger_New_NilConfig(t *testing.T) {
	l, err := NewAuditLogger(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(l.sessionID, "session-") {
		t.Fatalf("expected session- prefix, got %s", l.sessionID)
	}
}

func TestAuditLogger_Log_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, enabled: false}

	if err := l.Log(&AuditEvent{EventType: AuditEventRunStart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() > 0 {
		t.Fatal("expected no output when disabled")
	}

	// The global logger is disabled until initialized.
	if err := Audit().Log(&AuditEvent{EventType: AuditEventRunStart}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuditLogger_Log_FillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	l := &AuditLogger{writer: &buf, sessionID: "test-session", userID: "test-user", enabled: true}

	before := time.Now().UTC()
	if err := l.Log(&AuditEvent{EventType: AuditEventRunStart, Image: "flow.png"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after := time.Now().UTC()

	var event AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if event.SessionID != "test-session" || event.UserID != "test-user" {
		t.Fatalf("expected session and user to be filled, got %+v", event)
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Fatal("timestamp should be set automatically")
	}
}

func TestAuditLogger_RunLifecycle(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterAuditLogger(&buf, "s1")
	ctx := context.Background()

	l.LogRunStart(ctx, "run-1", "flow.png", "mermaid")
	l.LogOracleCall(ctx, "interpret_step", "openai", "gpt-4o", time.Second, 900, 120, false)
	l.LogOracleError(ctx, "refine", "openai", "gpt-4o", errors.New("429 Too Many Requests"))
	l.LogRunComplete(ctx, "run-1", "flow.png", "flowchart", 5*time.Second, 4, 0.03, true)
	l.LogResultExport(ctx, "run-1", "out.yaml", 512)

	var events []AuditEvent
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}

	want := []AuditEventType{AuditEventRunStart, AuditEventOracleCall, AuditEventOracleError, AuditEventRunComplete, AuditEventResultExport}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.EventType != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], e.EventType)
		}
	}
	if events[2].ErrorDetail == "" || events[2].Success {
		t.Error("oracle error should carry detail and be unsuccessful")
	}
	if events[3].Success {
		t.Error("partial run should not be marked successful")
	}
	if events[3].Details["oracle_calls"].(float64) != 4 {
		t.Errorf("expected 4 oracle calls, got %v", events[3].Details["oracle_calls"])
	}
}

func TestAuditLogger_RunError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterAuditLogger(&buf, "s1")
	l.LogRunError(context.Background(), "run-2", "seq.png", errors.New("no initial focus"))

	var event AuditEvent
	json.Unmarshal(buf.Bytes(), &event)
	if event.EventType != AuditEventRunError || event.ErrorDetail != "no initial focus" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestAuditLogger_Batch(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterAuditLogger(&buf, "s1")
	ctx := context.Background()

	l.LogBatchStart(ctx, "wf-1", 3)
	l.LogBatchEnd(ctx, "wf-1", time.Minute, 2, 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var end AuditEvent
	json.Unmarshal([]byte(lines[1]), &end)
	if end.WorkflowID != "wf-1" || end.Success {
		t.Fatalf("unexpected batch end %+v", end)
	}
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var l *AuditLogger
	if err := l.Log(&AuditEvent{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
