package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// pqUniqueViolation is the Postgres error code for unique constraint hits.
const pqUniqueViolation = "23505"

// PostgresReceiptStore mirrors SQLiteReceiptStore for deployments that
// already run Postgres.
type PostgresReceiptStore struct {
	db *sql.DB
}

func NewPostgresReceiptStore(db *sql.DB) (*PostgresReceiptStore, error) {
	s := &PostgresReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresReceiptStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        receipt_hash TEXT PRIMARY KEY,
        subject_type TEXT NOT NULL,
        subject_id TEXT NOT NULL,
        version TEXT NOT NULL DEFAULT '',
        root TEXT NOT NULL,
        signer_pubkey TEXT NOT NULL,
        signature TEXT NOT NULL,
        timestamp TIMESTAMPTZ,
        metadata JSONB
    );
    CREATE INDEX IF NOT EXISTS idx_receipts_subject ON receipts(subject_type, subject_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresReceiptStore) StoreArtifact(ctx context.Context, r *contracts.ArtifactReceipt) error {
	return s.insert(ctx, r.ReceiptHash, subjectArtifact, r.ArtifactID, r.Version,
		r.Root, r.SignerPubkey, r.Signature, r.Timestamp, r.Metadata)
}

func (s *PostgresReceiptStore) StoreSession(ctx context.Context, r *contracts.SessionReceipt) error {
	return s.insert(ctx, r.ReceiptHash, subjectSession, r.SessionID, "",
		r.Root, r.SignerPubkey, r.Signature, r.Timestamp, r.Metadata)
}

func (s *PostgresReceiptStore) insert(ctx context.Context, hash, subjectType, subjectID, version string,
	root, pubkey, sig []byte, ts time.Time, meta contracts.ReceiptMetadata) error {
	metaJSON, _ := json.Marshal(meta)

	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts (
		receipt_hash, subject_type, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		hash, subjectType, subjectID, version,
		hex.EncodeToString(root), hex.EncodeToString(pubkey), hex.EncodeToString(sig),
		ts.UTC(), string(metaJSON),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("receipt %s: %w", hash, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) GetArtifactByHash(ctx context.Context, receiptHash string) (*contracts.ArtifactReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE receipt_hash = $1 AND subject_type = $2`, receiptHash, subjectArtifact)
	return scanArtifactReceiptPg(row)
}

func (s *PostgresReceiptStore) GetSessionByHash(ctx context.Context, receiptHash string) (*contracts.SessionReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT receipt_hash, subject_id, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE receipt_hash = $1 AND subject_type = $2`, receiptHash, subjectSession)

	var (
		hash, subjectID, rootHex, pubkeyHex, sigHex string
		ts                                          time.Time
		metaJSON                                    sql.NullString
	)
	err := row.Scan(&hash, &subjectID, &rootHex, &pubkeyHex, &sigHex, &ts, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r := &contracts.SessionReceipt{ReceiptHash: hash, SessionID: subjectID, Timestamp: ts}
	r.Root, _ = hex.DecodeString(rootHex)
	r.SignerPubkey, _ = hex.DecodeString(pubkeyHex)
	r.Signature, _ = hex.DecodeString(sigHex)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
	}
	return r, nil
}

func (s *PostgresReceiptStore) ExistsByHash(ctx context.Context, receiptHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM receipts WHERE receipt_hash = $1`, receiptHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("receipt existence check failed: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresReceiptStore) ListArtifacts(ctx context.Context, limit int) ([]*contracts.ArtifactReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE subject_type = $1
        ORDER BY timestamp DESC LIMIT $2`, subjectArtifact, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.ArtifactReceipt
	for rows.Next() {
		r, err := scanArtifactReceiptPg(rows)
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

func (s *PostgresReceiptStore) ListArtifactsByID(ctx context.Context, artifactID string) ([]*contracts.ArtifactReceipt, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT receipt_hash, subject_id, version, root, signer_pubkey, signature, timestamp, metadata
        FROM receipts WHERE subject_type = $1 AND subject_id = $2
        ORDER BY timestamp DESC`, subjectArtifact, artifactID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []*contracts.ArtifactReceipt
	for rows.Next() {
		r, err := scanArtifactReceiptPg(rows)
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

func scanArtifactReceiptPg(row rowScanner) (*contracts.ArtifactReceipt, error) {
	var (
		hash, subjectID, version, rootHex, pubkeyHex, sigHex string
		ts                                                   time.Time
		metaJSON                                             sql.NullString
	)
	err := row.Scan(&hash, &subjectID, &version, &rootHex, &pubkeyHex, &sigHex, &ts, &metaJSON)
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
		Timestamp:   ts,
	}
	r.Root, _ = hex.DecodeString(rootHex)
	r.SignerPubkey, _ = hex.DecodeString(pubkeyHex)
	r.Signature, _ = hex.DecodeString(sigHex)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &r.Metadata)
	}
	return r, nil
}
