package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hrb-go/internal/hrb"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase records sync sessions in SQLite. It implements
// hrb.SessionRecorder.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// DB returns the underlying connection, for migrations.
func (s *SQLiteDatabase) DB() *sql.DB {
	return s.db
}

// RecordSession stores the session and all of its items in one transaction.
func (s *SQLiteDatabase) RecordSession(report *hrb.Report) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, owner, collection, mode, status, started_at, finished_at, drift)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.SessionID, report.Owner, report.Collection, string(report.Mode), report.Status(),
		report.StartedAt.UTC(), report.FinishedAt.UTC(), len(report.Drift))
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_items (session_id, object_id, direction, filename, error)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range report.Items {
		var msg string
		if it.Err != nil {
			msg = it.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, report.SessionID, it.ID.String(), string(it.Direction), it.Filename, msg); err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListSessions returns up to limit sessions, most recent first. limit <= 0
// returns all of them.
func (s *SQLiteDatabase) ListSessions(limit int) ([]*hrb.SessionSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(context.Background(), `
		SELECT s.id, s.owner, s.collection, s.mode, s.status, s.started_at, s.finished_at,
		       COALESCE(SUM(i.direction = 'upload' AND i.error = ''), 0),
		       COALESCE(SUM(i.direction = 'download' AND i.error = ''), 0),
		       COALESCE(SUM(i.error != ''), 0)
		FROM sync_sessions s
		LEFT JOIN sync_items i ON i.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC, s.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var result []*hrb.SessionSummary
	for rows.Next() {
		var (
			sum               hrb.SessionSummary
			mode              string
			started, finished time.Time
		)
		if err := rows.Scan(&sum.ID, &sum.Owner, &sum.Collection, &mode, &sum.Status,
			&started, &finished, &sum.Uploads, &sum.Downloads, &sum.Failures); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sum.Mode = hrb.Mode(mode)
		sum.StartedAt = started
		sum.FinishedAt = finished
		result = append(result, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return result, nil
}

// SessionItems returns the items of one session ordered by direction and id.
func (s *SQLiteDatabase) SessionItems(sessionID string) ([]*hrb.ItemRecord, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT object_id, direction, filename, error
		FROM sync_items
		WHERE session_id = ?
		ORDER BY direction, object_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing items of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var result []*hrb.ItemRecord
	for rows.Next() {
		rec := hrb.ItemRecord{SessionID: sessionID}
		var hex, direction string
		if err := rows.Scan(&hex, &direction, &rec.Filename, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		id, ok := hrb.ParseObjectID(hex)
		if !ok {
			return nil, fmt.Errorf("item %q of session %s: %w", hex, sessionID, hrb.ErrInvalidObjectID)
		}
		rec.ID = id
		rec.Direction = hrb.Direction(direction)
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items of session %s: %w", sessionID, err)
	}
	return result, nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ hrb.SessionRecorder = (*SQLiteDatabase)(nil)
