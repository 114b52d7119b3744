package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventRunStart     AuditEventType = "run.start"
	AuditEventRunComplete  AuditEventType = "run.complete"
	AuditEventRunError     AuditEventType = "run.error"
	AuditEventOracleCall   AuditEventType = "oracle.call"
	AuditEventOracleError  AuditEventType = "oracle.error"
	AuditEventResultExport AuditEventType = "result.export"
	AuditEventBatchStart   AuditEventType = "batch.start"
	AuditEventBatchEnd     AuditEventType = "batch.end"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	RunID       string                 `json:"run_id,omitempty"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	Image       string                 `json:"image,omitempty"`
	UserID      string                 `json:"user_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	userID    string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
	UserID     string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stderr",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		userID:    config.UserID,
		enabled:   config.Enabled,
	}, nil
}

// NewWriterAuditLogger creates an enabled audit logger writing to w.
func NewWriterAuditLogger(w io.Writer, sessionID string) *AuditLogger {
	return &AuditLogger{writer: w, sessionID: sessionID, enabled: true}
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogRunStart logs the start of an interpretation run.
func (l *AuditLogger) LogRunStart(ctx context.Context, runID, image, format string) {
	l.Log(&AuditEvent{
		EventType: AuditEventRunStart,
		RunID:     runID,
		Image:     image,
		Success:   true,
		Message:   fmt.Sprintf("Interpreting %s as %s", image, format),
		Details: map[string]interface{}{
			"format": format,
		},
	})
}

// LogRunComplete logs a finished run, partial or not.
func (l *AuditLogger) LogRunComplete(ctx context.Context, runID, image, diagramType string, duration time.Duration, calls int, cost float64, partial bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventRunComplete,
		RunID:     runID,
		Image:     image,
		Success:   !partial,
		Duration:  duration,
		Message:   fmt.Sprintf("Interpreted %s as %s", image, diagramType),
		Details: map[string]interface{}{
			"diagram_type": diagramType,
			"oracle_calls": calls,
			"cost_usd":     cost,
			"partial":      partial,
		},
	})
}

// LogRunError logs a run that produced no result.
func (l *AuditLogger) LogRunError(ctx context.Context, runID, image string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventRunError,
		RunID:       runID,
		Image:       image,
		Success:     false,
		Message:     fmt.Sprintf("Interpretation of %s failed", image),
		ErrorDetail: err.Error(),
	})
}

// LogOracleCall logs a successful oracle call.
func (l *AuditLogger) LogOracleCall(ctx context.Context, op, provider, model string, duration time.Duration, inputTokens, outputTokens int, cached bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventOracleCall,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("Oracle %s via %s/%s", op, provider, model),
		Details: map[string]interface{}{
			"op":            op,
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"cached":        cached,
		},
	})
}

// LogOracleError logs a failed oracle call.
func (l *AuditLogger) LogOracleError(ctx context.Context, op, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventOracleError,
		Success:     false,
		Message:     fmt.Sprintf("Oracle %s via %s/%s failed", op, provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"op":       op,
			"provider": provider,
			"model":    model,
		},
	})
}

// LogResultExport logs a result written to disk or a store.
func (l *AuditLogger) LogResultExport(ctx context.Context, runID, target string, size int) {
	l.Log(&AuditEvent{
		EventType: AuditEventResultExport,
		RunID:     runID,
		Success:   true,
		Message:   fmt.Sprintf("Exported result to %s", target),
		Details: map[string]interface{}{
			"target": target,
			"size":   size,
		},
	})
}

// LogBatchStart logs the start of a batch workflow.
func (l *AuditLogger) LogBatchStart(ctx context.Context, workflowID string, images int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventBatchStart,
		WorkflowID: workflowID,
		Success:    true,
		Message:    fmt.Sprintf("Batch started: %d images", images),
		Details: map[string]interface{}{
			"images": images,
		},
	})
}

// LogBatchEnd logs a completed batch workflow.
func (l *AuditLogger) LogBatchEnd(ctx context.Context, workflowID string, duration time.Duration, succeeded, failed int) {
	l.Log(&AuditEvent{
		EventType:  AuditEventBatchEnd,
		WorkflowID: workflowID,
		Success:    failed == 0,
		Duration:   duration,
		Message:    fmt.Sprintf("Batch completed: %d ok, %d failed", succeeded, failed),
		Details: map[string]interface{}{
			"succeeded": succeeded,
			"failed":    failed,
		},
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
