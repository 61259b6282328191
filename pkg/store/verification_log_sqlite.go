package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteVerificationLog is the append-only verification audit log. There is
// deliberately no update or delete path.
type SQLiteVerificationLog struct {
	db *sql.DB
}

func NewSQLiteVerificationLog(db *sql.DB) (*SQLiteVerificationLog, error) {
	l := &SQLiteVerificationLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteVerificationLog) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS verification_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        entity_type TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        success INTEGER NOT NULL,
        error_code TEXT NOT NULL DEFAULT '',
        message TEXT NOT NULL DEFAULT '',
        timestamp DATETIME
    );`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteVerificationLog) Append(ctx context.Context, e LogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO verification_log (
		entity_type, entity_id, success, error_code, message, timestamp
	) VALUES (?, ?, ?, ?, ?, ?)`,
		e.EntityType, e.EntityID, boolToInt(e.Success), e.ErrorCode, e.Message,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

func (l *SQLiteVerificationLog) Recent(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT entity_type, entity_id, success, error_code, message, timestamp
        FROM verification_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			success int
			ts      sql.NullString
		)
		if err := rows.Scan(&e.EntityType, &e.EntityID, &success, &e.ErrorCode, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.Success = success != 0
		if ts.Valid {
			e.Timestamp = parseTime(ts.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
