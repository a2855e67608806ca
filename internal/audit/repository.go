// Package audit records accepted configuration writes in the audit_logs
// table and lists them for the operator API.
package audit

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// timestampFormat is fixed width so created_at sorts as text.
	timestampFormat = "2006-01-02T15:04:05.000000Z07:00"

	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one accepted write. Details holds the written value as hex.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	Slot      *int      `json:"slot,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Action string    // characteristic name: slot_data, lock_state, ...
	Source string    // http, mqtt or provision
	Slot   *int      // slot index
	Since  time.Time // entries at or after
	Limit  int       // default 50, capped at 200
	Offset int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// SQLiteRepository stores entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordWrite implements beacon.Auditor. index < 0 records a write that
// is not bound to a slot.
func (r *SQLiteRepository) RecordWrite(ctx context.Context, source, characteristic string, index int, value []byte) error {
	e := &Entry{Action: characteristic, Source: source, Details: hex.EncodeToString(value)}
	if index >= 0 {
		e.Slot = &index
	}
	return r.Create(ctx, e)
}

// Create inserts e, filling in ID and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var slot, details any
	if e.Slot != nil {
		slot = *e.Slot
	}
	if e.Details != "" {
		details = e.Details
	}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, source, slot, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Source, slot, details, e.CreatedAt.UTC().Format(timestampFormat),
	); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// where renders f as a parameterised WHERE clause.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Source != "" {
		add("source = ?", f.Source)
	}
	if f.Slot != nil {
		add("slot = ?", *f.Slot)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(timestampFormat))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns the page of entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = min(max(filter.Limit, 0), maxLimit)
	if filter.Limit == 0 {
		filter.Limit = defaultLimit
	}
	filter.Offset = max(filter.Offset, 0)

	where, args := filter.where()

	var total int
	//nolint:gosec // where holds only placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // where holds only placeholders
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, action, source, slot, details, created_at FROM audit_logs"+where+
			" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{Logs: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e       Entry
		slot    sql.NullInt64
		details sql.NullString
		created string
	)
	if err := rows.Scan(&e.ID, &e.Action, &e.Source, &slot, &details, &created); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}
	if slot.Valid {
		n := int(slot.Int64)
		e.Slot = &n
	}
	e.Details = details.String

	t, err := time.Parse(timestampFormat, created)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", created, err)
	}
	e.CreatedAt = t
	return e, nil
}
