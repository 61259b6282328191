package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"

	_ "modernc.org/sqlite"
)

const (
	subjectArtifact = "artifact"
	subjectSession  = "session"
)

// SQLiteReceiptStore is the default durable receipt store.
type SQLiteReceiptStore struct {
	db *sql.DB
}

func NewSQLiteReceiptStore(db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        receipt_hash TEXT PRIMARY KEY,
        subject_type TEXT NOT NULL,
        subject_id TEXT NOT NULL,
        version TEXT NOT NULL DEFAULT '',
        root TEXT NOT NULL,
        signer_pubkey TEXT NOT NULL,
        signature TEXT NOT NULL,
        timestamp DATETIME,
        metadata JSON
    );
    CREATE INDEX IF NOT EXISTS idx_receipts_subject ON receipts(subject_type, subject_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteReceiptStore) StoreArtifact(ctx context.Context, r *contracts.ArtifactReceipt) error {
	return s.insert(ctx, r.ReceiptHash, subjectArtifact, r.ArtifactID, r.Version,
		r.Root, r.SignerPubkey, r.Signature, r.Timestamp, r.Metadata)
}

func (s *SQLiteReceiptStore) StoreSession(ctx context.Context, r *contracts.SessionReceipt) error {
	return s.insert(ctx, r.ReceiptHash, subjectSession, r.SessionID, "",
		r.Root, r.SignerPubkey, r.Signature, r.Timestamp, r.Metadata)
}

func (s *SQLiteReceiptStore) insert(ctx context.Context, hash, subjectType, subjectID, version string,
	root, pubkey, sig []byte, ts time.Time, meta contracts.ReceiptMetadata) error {
	query := `INSERT INTO receipts (
		receipt_hash, subject_type, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	metaJSON, _ := json.Marshal(meta)

	_, err := s.db.ExecContext(ctx, query,
		hash, subjectType, subjectID, version,
		hex.EncodeToString(root), hex.EncodeToString(pubkey), hex.EncodeToString(sig),
		ts.UTC().Format(time.RFC3339Nano), string(metaJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("receipt %s: %w", hash, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) GetArtifactByHash(ctx context.Context, receiptHash string) (*contracts.ArtifactReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE receipt_hash = ? AND subject_type = ?`, receiptHash, subjectArtifact)
	return scanArtifactReceipt(row)
}

func (s *SQLiteReceiptStore) GetSessionByHash(ctx context.Context, receiptHash string) (*contracts.SessionReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT receipt_hash, subject_id, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE receipt_hash = ? AND subject_type = ?`, receiptHash, subjectSession)

	var (
		hash, subjectID, rootHex, pubkeyHex, sigHex, timestamp string
		metaJSON                                               sql.NullString
	)
	err := row.Scan(&hash, &subjectID, &rootHex, &pubkeyHex, &sigHex, &timestamp, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r := &contracts.SessionReceipt{
		ReceiptHash: hash,
		SessionID:   subjectID,
		Timestamp:   parseTime(timestamp),
	}
	r.Root, _ = hex.DecodeString(rootHex)
	r.SignerPubkey, _ = hex.DecodeString(pubkeyHex)
	r.Signature, _ = hex.DecodeString(sigHex)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
	}
	return r, nil
}

func (s *SQLiteReceiptStore) ExistsByHash(ctx context.Context, receiptHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM receipts WHERE receipt_hash = ?`, receiptHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("receipt existence check failed: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteReceiptStore) ListArtifacts(ctx context.Context, limit int) ([]*contracts.ArtifactReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE subject_type = ?
        ORDER BY timestamp DESC LIMIT ?`, subjectArtifact, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.ArtifactReceipt
	for rows.Next() {
		r, err := scanArtifactReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// ListArtifactsByID returns every receipt minted for one artifact, newest
// first. Re-verification across versions leaves one receipt per distinct
// (version, root, signer) tuple.
func (s *SQLiteReceiptStore) ListArtifactsByID(ctx context.Context, artifactID string) ([]*contracts.ArtifactReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE subject_type = ? AND subject_id = ?
        ORDER BY timestamp DESC`, subjectArtifact, artifactID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.ArtifactReceipt
	for rows.Next() {
		r, err := scanArtifactReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifactReceipt(row rowScanner) (*contracts.ArtifactReceipt, error) {
	var (
		hash, subjectID, version, rootHex, pubkeyHex, sigHex, timestamp string
		metaJSON                                                        sql.NullString
	)
	err := row.Scan(&hash, &subjectID, &version, &rootHex, &pubkeyHex, &sigHex, &timestamp, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r := &contracts.ArtifactReceipt{
		ReceiptHash: hash,
		ArtifactID:  subjectID,
		Version:     version,
		Timestamp:   parseTime(timestamp),
	}
	r.Root, _ = hex.DecodeString(rootHex)
	r.SignerPubkey, _ = hex.DecodeString(pubkeyHex)
	r.Signature, _ = hex.DecodeString(sigHex)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
	}
	return r, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
