// Package journal records terminal protocol results to a SQLite file so runs
// can be compared after the fact.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Kinds of recorded result.
const (
	KindEntanglement = "entanglement"
	KindBell         = "bell"
	KindGHZ          = "ghz"
	KindTeleport     = "teleport"
)

// An Entry is one recorded result. Payload holds the result as JSON.
type Entry struct {
	ID        string
	Kind      string
	Pass      bool
	Fidelity  *float64
	Payload   json.RawMessage
	CreatedAt time.Time
}

// A Journal is an append-only log of results backed by SQLite in WAL mode.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to journal: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends e. A missing ID or CreatedAt is filled in; the stored entry
// is returned.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, errors.New("journal entry missing kind")
	}
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Entry{}, fmt.Errorf("generating entry id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}
	if !json.Valid(e.Payload) {
		return Entry{}, fmt.Errorf("journal entry %s: payload is not valid JSON", e.ID)
	}
	var fidelity sql.NullFloat64
	if e.Fidelity != nil {
		fidelity = sql.NullFloat64{Float64: *e.Fidelity, Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO results (id, kind, pass, fidelity, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.Pass, fidelity, string(e.Payload), e.CreatedAt.UnixNano())
	if err != nil {
		return Entry{}, fmt.Errorf("recording %s entry %s: %w", e.Kind, e.ID, err)
	}
	return e, nil
}

// List returns the entries of kind in the order they were recorded. An empty
// kind lists everything.
func (j *Journal) List(ctx context.Context, kind string) ([]Entry, error) {
	q := `SELECT id, kind, pass, fidelity, payload, created_at FROM results`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY seq`
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			fidelity sql.NullFloat64
			payload  string
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Pass, &fidelity, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if fidelity.Valid {
			f := fidelity.Float64
			e.Fidelity = &f
		}
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
