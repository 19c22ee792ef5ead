package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Spatial-NVR/PPEGuard/internal/database"
)

// SQLiteStore keeps the log in the detection_log table
type SQLiteStore struct {
	db       *database.DB
	migrator *database.Migrator
	logger   *slog.Logger
}

// NewSQLite wraps a migrated database. The store owns db and closes it.
func NewSQLite(db *database.DB) *SQLiteStore {
	return &SQLiteStore{
		db:       db,
		migrator: database.NewMigrator(db),
		logger:   slog.Default().With("component", "logstore", "backend", "sqlite"),
	}
}

// Append inserts records in one transaction
func (s *SQLiteStore) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO detection_log (timestamp, snapshot, class_name, confidence) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.Timestamp, r.Snapshot, r.Class, r.Confidence); err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		return nil
	})
}

// Tail returns the last n records in append order
func (s *SQLiteStore) Tail(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return []Record{}, nil
	}

	records, err := s.query(ctx, `
		SELECT timestamp, snapshot, class_name, confidence FROM (
			SELECT id, timestamp, snapshot, class_name, confidence
			FROM detection_log ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// All returns every record in append order
func (s *SQLiteStore) All(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `SELECT timestamp, snapshot, class_name, confidence FROM detection_log ORDER BY id ASC`)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection log: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Timestamp, &r.Snapshot, &r.Class, &r.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the underlying database
// Health pings the database and checks that every migration is applied
func (s *SQLiteStore) Health(ctx context.Context) error {
	if err := s.db.Health(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	migrations, err := s.migrator.Status(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.AppliedAt.IsZero() {
			return fmt.Errorf("migration %d (%s) not applied", m.Version, m.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
