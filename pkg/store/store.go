// Package store persists the engine's durable state: receipts, key lifecycle
// records, the append-only verification log, and transfer resume files.
// SQLite is the primary backend; Postgres variants mirror the same
// interfaces for deployments that already run one.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint. For receipts this is the content-addressing collision
	// signal, not a storage fault.
	ErrDuplicate = errors.New("record already exists")
)

// ReceiptStore persists signed receipts keyed by their content address.
// Uniqueness of the receipt hash is enforced by the primary key: a duplicate
// insert surfaces as ErrDuplicate for the caller to classify.
type ReceiptStore interface {
	StoreArtifact(ctx context.Context, r *contracts.ArtifactReceipt) error
	StoreSession(ctx context.Context, r *contracts.SessionReceipt) error
	GetArtifactByHash(ctx context.Context, receiptHash string) (*contracts.ArtifactReceipt, error)
	GetSessionByHash(ctx context.Context, receiptHash string) (*contracts.SessionReceipt, error)
	ExistsByHash(ctx context.Context, receiptHash string) (bool, error)
	ListArtifacts(ctx context.Context, limit int) ([]*contracts.ArtifactReceipt, error)
	ListArtifactsByID(ctx context.Context, artifactID string) ([]*contracts.ArtifactReceipt, error)
}

// KeyStore persists key lifecycle records. Records are never deleted;
// revocation is a terminal update.
type KeyStore interface {
	Insert(ctx context.Context, k *contracts.KeyMetadata) error
	Get(ctx context.Context, keyID string) (*contracts.KeyMetadata, error)
	Revoke(ctx context.Context, keyID, reason string, at time.Time) error
	ExpiringWithin(ctx context.Context, window time.Duration) ([]*contracts.KeyMetadata, error)
	ListByType(ctx context.Context, keyType contracts.KeyType) ([]*contracts.KeyMetadata, error)
}

// LogEntry is one row of the append-only verification log.
type LogEntry struct {
	EntityType string    `json:"entityType"` // "artifact", "session", "key"
	EntityID   string    `json:"entityId"`
	Success    bool      `json:"success"`
	ErrorCode  string    `json:"errorCode,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// VerificationLog records every verification attempt, success or failure.
// Implementations must be append-only.
type VerificationLog interface {
	Append(ctx context.Context, e LogEntry) error
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}
