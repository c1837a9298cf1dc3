// Package history keeps a SQLite record of every finished upload.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"rumblebot/internal/domain"
)

// Record is one finished upload attempt.
type Record struct {
	ID        string
	RequestID string
	ChatID    string
	FileName  string
	Title     string
	Channel   string
	Status    domain.UploadStatus
	URL       string
	Kind      domain.ErrorKind
	Reason    string
	Step      string
	Size      int64
	Duration  time.Duration
	CreatedAt time.Time
}

// FromResult builds a record for req's result.
func FromResult(req domain.UploadRequest, fileName string, size int64, res domain.UploadResult) Record {
	return Record{
		RequestID: req.ID,
		ChatID:    req.ChatID,
		FileName:  fileName,
		Title:     req.Title,
		Channel:   req.Channel,
		Status:    res.Status,
		URL:       res.URL,
		Kind:      res.Kind,
		Reason:    res.Reason,
		Step:      res.Step,
		Size:      size,
		Duration:  res.Duration,
	}
}

// Stats aggregates the history.
type Stats struct {
	Total    int
	ByStatus map[domain.UploadStatus]int
	LastAt   time.Time
}

// Store persists upload records in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Add stores rec, assigning an ID and timestamp when missing.
func (s *Store) Add(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, request_id, chat_id, file_name, title, channel, status, url, kind, reason, step, size, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.ChatID, rec.FileName, rec.Title, rec.Channel,
		string(rec.Status), rec.URL, string(rec.Kind), rec.Reason, rec.Step, rec.Size,
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, chat_id, file_name, title, channel, status, url, kind, reason, step, size, duration_ms, created_at
		 FROM uploads ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status, kind string
		var step sql.NullString
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.ChatID, &r.FileName, &r.Title, &r.Channel,
			&status, &r.URL, &kind, &r.Reason, &step, &r.Size, &durationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Status = domain.UploadStatus(status)
		r.Kind = domain.ErrorKind(kind)
		r.Step = step.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats counts records per status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[domain.UploadStatus]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM uploads GROUP BY status`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.ByStatus[domain.UploadStatus(status)] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	var last sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM uploads ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	if last.Valid {
		st.LastAt = last.Time
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
