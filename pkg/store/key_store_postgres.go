package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// PostgresKeyStore mirrors SQLiteKeyStore.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) (*PostgresKeyStore, error) {
	s := &PostgresKeyStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresKeyStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS keys (
        key_id TEXT PRIMARY KEY,
        key_type TEXT NOT NULL,
        created_at TIMESTAMPTZ,
        expires_at TIMESTAMPTZ,
        revoked BOOLEAN NOT NULL DEFAULT FALSE,
        revoked_at TIMESTAMPTZ,
        revocation_reason TEXT NOT NULL DEFAULT '',
        metadata JSONB
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresKeyStore) Insert(ctx context.Context, k *contracts.KeyMetadata) error {
	metaJSON, _ := json.Marshal(k.Metadata)
	var revokedAt any
	if k.RevokedAt != nil {
		revokedAt = k.RevokedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO keys (
		key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.KeyID, string(k.Type), k.CreatedAt.UTC(), k.ExpiresAt.UTC(),
		k.Revoked, revokedAt, k.RevocationReason, string(metaJSON),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return fmt.Errorf("key %s: %w", k.KeyID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) Get(ctx context.Context, keyID string) (*contracts.KeyMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys WHERE key_id = $1`, keyID)
	return scanKeyRowPg(row)
}

func (s *PostgresKeyStore) Revoke(ctx context.Context, keyID, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE keys SET revoked = TRUE, revoked_at = $1, revocation_reason = $2
        WHERE key_id = $3`, at.UTC(), reason, keyID)
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

func (s *PostgresKeyStore) ExpiringWithin(ctx context.Context, window time.Duration) ([]*contracts.KeyMetadata, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys
        WHERE revoked = FALSE AND expires_at > $1 AND expires_at <= $2
        ORDER BY expires_at ASC`, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKeysPg(rows)
}

func (s *PostgresKeyStore) ListByType(ctx context.Context, keyType contracts.KeyType) ([]*contracts.KeyMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT key_id, key_type, created_at, expires_at, revoked, revoked_at, revocation_reason, metadata
        FROM keys WHERE key_type = $1 ORDER BY created_at ASC`, string(keyType))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKeysPg(rows)
}

func collectKeysPg(rows *sql.Rows) ([]*contracts.KeyMetadata, error) {
	var keys []*contracts.KeyMetadata
	for rows.Next() {
		k, err := scanKeyRowPg(rows)
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

func scanKeyRowPg(row rowScanner) (*contracts.KeyMetadata, error) {
	var (
		keyID, keyType, reason string
		createdAt, expiresAt   time.Time
		revoked                bool
		revokedAt              sql.NullTime
		metaJSON               sql.NullString
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
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
		Revoked:          revoked,
		RevocationReason: reason,
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &k.Metadata)
	}
	return k, nil
}
