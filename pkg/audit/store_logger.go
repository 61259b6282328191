package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/store"
)

// StoreLogger records audit events into the append-only verification log.
type StoreLogger struct {
	log store.VerificationLog
}

func NewStoreLogger(l store.VerificationLog) *StoreLogger {
	return &StoreLogger{log: l}
}

func (l *StoreLogger) Record(ctx context.Context, _ EventType, entityType, entityID string, success bool, errorCode, message string, _ map[string]any) error {
	if l.log == nil {
		return fmt.Errorf("fail-closed: verification log not configured")
	}
	return l.log.Append(ctx, store.LogEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Success:    success,
		ErrorCode:  errorCode,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	})
}

// Multi fans one event out to several loggers. The first error is returned
// after all loggers have been attempted, so a failing sink cannot starve the
// others.
type Multi []Logger

func (m Multi) Record(ctx context.Context, eventType EventType, entityType, entityID string, success bool, errorCode, message string, metadata map[string]any) error {
	var firstErr error
	for _, l := range m {
		if err := l.Record(ctx, eventType, entityType, entityID, success, errorCode, message, metadata); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
