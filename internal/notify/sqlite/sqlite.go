package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"refocus/internal/notify"
)

type RecordStore struct {
	db     *sql.DB
	dbPath string
}

func NewRecordStore(dbPath string) notify.RecordStore {
	return &RecordStore{dbPath: dbPath}
}

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS notification_records (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	metadata TEXT,
	clicked INTEGER,
	dismissed INTEGER
);
CREATE INDEX IF NOT EXISTS idx_records_category_ts ON notification_records (category, timestamp);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON notification_records (timestamp);
`

func (s *RecordStore) Init(ctx context.Context) error {
	// Ensure directory exists
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrapf(err, "failed to create db directory %s", dir)
	}

	log.Printf("Initializing notification record store at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return errors.Wrap(err, "failed to open sqlite database")
	}
	s.db = db

	// SQLite is often best with a single writer connection
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return errors.Wrap(err, "failed to ping database")
	}

	if _, err := s.db.ExecContext(ctx, createRecordsTableSQL); err != nil {
		s.db.Close()
		return errors.Wrap(err, "failed to create records table")
	}
	log.Println("Notification record store initialized.")
	return nil
}

func (s *RecordStore) Insert(ctx context.Context, r notify.Record) error {
	var metadata sql.NullString
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return errors.Wrap(err, "failed to marshal record metadata")
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO notification_records (id, category, message, timestamp, metadata, clicked, dismissed)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.Category, r.Message, r.Timestamp, metadata, r.Clicked, r.Dismissed)
	return errors.Wrap(err, "failed to insert notification record")
}

func (s *RecordStore) SetInteraction(ctx context.Context, id string, clicked, dismissed *bool) (bool, error) {
	// COALESCE keeps whichever flag was written first.
	query := `UPDATE notification_records
	          SET clicked = COALESCE(clicked, ?), dismissed = COALESCE(dismissed, ?)
	          WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, clicked, dismissed, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to update interaction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

func (s *RecordStore) ExistsSince(ctx context.Context, category string, since int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM notification_records WHERE category = ? AND timestamp >= ?)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, category, since).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check category window")
	}
	return exists, nil
}

func (s *RecordStore) RecordsSince(ctx context.Context, since int64) ([]notify.Record, error) {
	query := `SELECT id, category, message, timestamp, metadata, clicked, dismissed
	          FROM notification_records
	          WHERE timestamp >= ?
	          ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	var records []notify.Record
	for rows.Next() {
		var r notify.Record
		var metadata sql.NullString
		var clicked, dismissed sql.NullBool

		if err := rows.Scan(&r.ID, &r.Category, &r.Message, &r.Timestamp, &metadata, &clicked, &dismissed); err != nil {
			return nil, errors.Wrap(err, "failed to scan record row")
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				log.Printf("Warning: unreadable metadata on record %s: %v", r.ID, err)
			}
		}
		if clicked.Valid {
			v := clicked.Bool
			r.Clicked = &v
		}
		if dismissed.Valid {
			v := dismissed.Bool
			r.Dismissed = &v
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating record rows")
	}
	return records, nil
}

func (s *RecordStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

func (s *RecordStore) Stats(ctx context.Context) (notify.Stats, error) {
	query := `SELECT category,
	                 COUNT(*),
	                 COALESCE(SUM(CASE WHEN clicked = 1 THEN 1 ELSE 0 END), 0),
	                 COALESCE(SUM(CASE WHEN dismissed = 1 THEN 1 ELSE 0 END), 0)
	          FROM notification_records
	          GROUP BY category
	          ORDER BY category`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return notify.Stats{}, errors.Wrap(err, "failed to query stats")
	}
	defer rows.Close()

	var stats notify.Stats
	var clickedTotal, dismissedTotal int64
	for rows.Next() {
		var cs notify.CategoryStats
		if err := rows.Scan(&cs.Category, &cs.Sent, &cs.Clicked, &cs.Dismissed); err != nil {
			return notify.Stats{}, errors.Wrap(err, "failed to scan stats row")
		}
		stats.ByCategory = append(stats.ByCategory, cs)
		stats.TotalSent += cs.Sent
		clickedTotal += cs.Clicked
		dismissedTotal += cs.Dismissed
	}
	if err := rows.Err(); err != nil {
		return notify.Stats{}, errors.Wrap(err, "error iterating stats rows")
	}

	if stats.TotalSent > 0 {
		stats.ClickRate = float64(clickedTotal) / float64(stats.TotalSent)
		stats.DismissRate = float64(dismissedTotal) / float64(stats.TotalSent)
	}
	return stats, nil
}

func (s *RecordStore) Close() error {
	if s.db != nil {
		log.Println("Closing notification record store.")
		return s.db.Close()
	}
	return nil
}
