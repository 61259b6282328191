// Package audit records every verification attempt, success or failure, as a
// structured event. Logging failures are reported to the caller's logger but
// never mask or suppress the verification result itself.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventVerification EventType = "VERIFICATION"
	EventTrustChange  EventType = "TRUST_CHANGE"
	EventReceipt      EventType = "RECEIPT"
	EventTransfer     EventType = "TRANSFER"
)

// Event represents a structured audit record.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Success    bool           `json:"success"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, entityType, entityID string, success bool, errorCode, message string, metadata map[string]any) error
}

// logger implements Logger, writing structured JSON to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
// This allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, entityType, entityID string, success bool, errorCode, message string, metadata map[string]any) error {
	event := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Success:    success,
		ErrorCode:  errorCode,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(data, '\n'))
	return err
}
