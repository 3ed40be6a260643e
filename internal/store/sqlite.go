package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var ErrTicketNotFound = errors.New("ticket not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, "mode=memory") || strings.Contains(dataSourceName, ":memory:") {
		// An in-memory database lives as long as its last connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS tickets (
        id TEXT PRIMARY KEY,
        question TEXT NOT NULL,
        user_email TEXT,
        session_id TEXT,
        status TEXT NOT NULL CHECK (status IN ('open', 'in_progress', 'resolved', 'closed')),
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateTicket(ctx context.Context, t *Ticket) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = TicketOpen
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tickets (id, question, user_email, session_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.ID, t.Question, t.UserEmail, t.SessionID, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute ticket insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, question, user_email, session_id, status, created_at, updated_at FROM tickets WHERE id = ?", id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

// ListTickets returns the newest tickets first. An empty status lists all.
func (s *SQLiteStore) ListTickets(ctx context.Context, status TicketStatus, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, question, user_email, session_id, status, created_at, updated_at FROM tickets"
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

func (s *SQLiteStore) UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) (*Ticket, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to execute ticket status update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrTicketNotFound
	}
	return s.GetTicket(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (*Ticket, error) {
	var t Ticket
	var email, session sql.NullString
	if err := r.Scan(&t.ID, &t.Question, &email, &session, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		t.UserEmail = &email.String
	}
	if session.Valid {
		t.SessionID = &session.String
	}
	return &t, nil
}
