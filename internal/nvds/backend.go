// Package nvds stores tagged non-volatile values in SQLite.
//
// It backs slot.Store on Linux hosts: every Put is its own statement, so
// each write is independently durable under SQLite's WAL journal.
package nvds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/slot"
)

// SQLiteBackend implements slot.Backend over the nvds table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a backend. The nvds migration must have run.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Put implements slot.Backend. An existing tag is overwritten.
func (b *SQLiteBackend) Put(ctx context.Context, tag uint16, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO nvds (tag, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tag) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		int64(tag), value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing nvds tag %d: %w", tag, err)
	}
	return nil
}

// Get implements slot.Backend. It returns slot.ErrNotFound for a tag that
// was never written.
func (b *SQLiteBackend) Get(ctx context.Context, tag uint16) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM nvds WHERE tag = ?`, int64(tag)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, slot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading nvds tag %d: %w", tag, err)
	}
	return value, nil
}

// Entry describes one stored tag.
type Entry struct {
	Tag       uint16    `json:"tag"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entries lists every stored tag in ascending order.
func (b *SQLiteBackend) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT tag, length(value), updated_at FROM nvds ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("listing nvds tags: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			tag       int64
			e         Entry
			updatedAt string
		)
		if err := rows.Scan(&tag, &e.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning nvds tag: %w", err)
		}
		e.Tag = uint16(tag) //nolint:gosec // column CHECK bounds tag to 0..65535
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			e.UpdatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nvds tags: %w", err)
	}
	return entries, nil
}
