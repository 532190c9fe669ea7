// Package journal keeps an on-disk audit trail of every outbound delivery
// attempt. It is strictly observational: journal errors are logged by the
// callers and never change reminder or monitoring behavior.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Delivery kinds.
const (
	KindReminder         = "reminder"
	KindDatacenterChange = "datacenter_change"
)

// Delivery outcomes.
const (
	OutcomeDelivered        = "delivered"
	OutcomePermanentFailure = "permanent_failure"
	OutcomeTransientFailure = "transient_failure"
)

// Entry is one recorded delivery attempt.
type Entry struct {
	ID        int64
	UserID    string
	Kind      string
	MachineID string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Journal wraps the sqlite connection holding the delivery log.
type Journal struct {
	conn *sql.DB
}

// Open opens (creating if needed) the journal database and runs migrations.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	connString := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	conn, err := sql.Open("sqlite3", connString)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// A single writer appending small rows; one connection is plenty.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal database: %w", err)
	}

	return &Journal{conn: conn}, nil
}

// Record appends one delivery attempt.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO deliveries (user_id, kind, machine_id, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, e.MachineID, e.Outcome, e.Detail, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentForUser returns the newest delivery attempts for a user, newest
// first, capped at limit.
func (j *Journal) RecentForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, user_id, kind, machine_id, outcome, detail, created_at
		 FROM deliveries WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.MachineID, &e.Outcome, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.conn.Close()
}
