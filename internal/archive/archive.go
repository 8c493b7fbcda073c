package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scriptoria/internal/model"
)

const FileName = "archive.sqlite"

type Reason string

const (
	ReasonEvicted Reason = "evicted"
	ReasonDeleted Reason = "deleted"
	ReasonCleared Reason = "cleared"
)

// Record is one archived history entry.
type Record struct {
	ID         int64       `json:"id"`
	Reason     Reason      `json:"reason"`
	ArchivedAt time.Time   `json:"archivedAt"`
	Entry      model.Entry `json:"entry"`
}

type ListOptions struct {
	Project string
	Limit   int
}

// Archive keeps entries that left the live history (eviction, delete, clear) in SQLite. The live
// history document never reads from it.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, path string) (*Archive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("archive: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The web server and CLI may hold the archive open at the same time.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archived_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reason TEXT NOT NULL,
			archived_at INTEGER NOT NULL,
			project TEXT NOT NULL,
			mode TEXT NOT NULL,
			idea TEXT NOT NULL,
			entry_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_archived_entries_project ON archived_entries(project, id);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Put stores entries in one transaction, preserving their order.
func (a *Archive) Put(ctx context.Context, reason Reason, entries []model.Entry) error {
	if a == nil || len(entries) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	at := a.now().UTC().UnixMilli()
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO archived_entries(reason, archived_at, project, mode, idea, entry_json) VALUES(?, ?, ?, ?, ?, ?)`,
			string(reason), at, e.ProjectOrDefault(), string(e.ModeOrDefault()), e.Idea, string(b),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns archived records, most recently archived first.
func (a *Archive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if a == nil {
		return []Record{}, nil
	}
	q := `SELECT id, reason, archived_at, entry_json FROM archived_entries`
	var args []any
	if p := strings.TrimSpace(opts.Project); p != "" {
		q += ` WHERE project = ?`
		args = append(args, p)
	}
	q += ` ORDER BY id DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r       Record
			reason  string
			atMs    int64
			payload string
		)
		if err := rows.Scan(&r.ID, &reason, &atMs, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Entry); err != nil {
			return nil, err
		}
		r.Reason = Reason(reason)
		r.ArchivedAt = time.UnixMilli(atMs).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *Archive) Count(ctx context.Context) (int, error) {
	if a == nil {
		return 0, nil
	}
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT count(*) FROM archived_entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
