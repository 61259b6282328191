package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// SQLiteKeyStore persists key lifecycle records.
type SQLiteKeyStore struct {
	db *sql.DB
}

func NewSQLiteKeyStore(db *sql.DB) (*SQLiteKeyStore, error) {
	s := &SQLiteKeyStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKeyStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS keys (
        key_id TEXT PRIMARY KEY,
        key_type TEXT NOT NULL,
        created_at DATETIME,
        expires_at DATETIME,
        revoked INTEGER NOT NULL DEFAULT 0,
        revoked_at DATETIME,
        revocation_reason TEXT NOT NULL DEFAULT '',
        metadata JSON
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteKeyStore) Insert(ctx context.Context, k *contracts.KeyMetadata) error {
	metaJSON, _ := json.Marshal(k.Metadata)
	var revokedAt any
	if k.RevokedAt != nil {
		revokedAt = k.RevokedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO keys (
		key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.KeyID, string(k.Type),
		k.CreatedAt.UTC().Format(time.RFC3339Nano),
		k.ExpiresAt.UTC().Format(time.RFC3339Nano),
		boolToInt(k.Revoked), revokedAt, k.RevocationReason, string(metaJSON),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("key %s: %w", k.KeyID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

func (s *SQLiteKeyStore) Get(ctx context.Context, keyID string) (*contracts.KeyMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys WHERE key_id = ?`, keyID)
	return scanKeyRow(row)
}

// Revoke marks a key revoked. Revocation is terminal: the record is updated,
// never deleted, so the audit trail survives.
func (s *SQLiteKeyStore) Revoke(ctx context.Context, keyID, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE keys SET revoked = 1, revoked_at = ?, revocation_reason = ?
        WHERE key_id = ?`,
		at.UTC().Format(time.RFC3339Nano), reason, keyID)
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("key %s: %w", keyID, ErrNotFound)
	}
	return nil
}

// ExpiringWithin returns non-revoked keys whose expiry falls inside the
// window from now.
func (s *SQLiteKeyStore) ExpiringWithin(ctx context.Context, window time.Duration) ([]*contracts.KeyMetadata, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys
        WHERE revoked = 0 AND expires_at > ? AND expires_at <= ?
        ORDER BY expires_at ASC`,
		now.Format(time.RFC3339Nano), now.Add(window).Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKeys(rows)
}

func (s *SQLiteKeyStore) ListByType(ctx context.Context, keyType contracts.KeyType) ([]*contracts.KeyMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys WHERE key_type = ? ORDER BY created_at ASC`, string(keyType))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKeys(rows)
}

func collectKeys(rows *sql.Rows) ([]*contracts.KeyMetadata, error) {
	var keys []*contracts.KeyMetadata
	for rows.Next() {
		k, err := scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func scanKeyRow(row rowScanner) (*contracts.KeyMetadata, error) {
	var (
		keyID, keyType, createdAt, expiresAt, reason string
		revoked                                      int
		revokedAt, metaJSON                          sql.NullString
	)
	err := row.Scan(&keyID, &keyType, &createdAt, &expiresAt, &revoked, &revokedAt, &reason, &metaJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	k := &contracts.KeyMetadata{
		KeyID:            keyID,
		Type:             contracts.KeyType(keyType),
		CreatedAt:        parseTime(createdAt),
		ExpiresAt:        parseTime(expiresAt),
		Revoked:          revoked != 0,
		RevocationReason: reason,
	}
	if revokedAt.Valid && revokedAt.String != "" {
		t := parseTime(revokedAt.String)
		k.RevokedAt = &t
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &k.Metadata)
	}
	return k, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
