// Package opjournal persists operations the queue drains on offline
// escalation. The journal is a spill log, not a replay mechanism: the
// queue writes to it and forgets; inspecting or resubmitting journaled
// work is the caller's decision after recovery.
package opjournal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

const schema = `
CREATE TABLE IF NOT EXISTS op_journal (
	id          BLOB NOT NULL,
	scope_id    BLOB NOT NULL,
	verb        INTEGER NOT NULL,
	target      INTEGER NOT NULL,
	retry_count INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL,
	spilled_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_op_journal_scope ON op_journal(scope_id);
`

// Entry is one journaled operation.
type Entry struct {
	ID         idwrap.IDWrap
	ScopeID    idwrap.IDWrap
	Verb       mop.Verb
	Target     mop.Target
	RetryCount int
	Payload    []byte
	EnqueuedAt time.Time
	SpilledAt  time.Time
}

// Journal is a SQLite-backed spill log.
type Journal struct {
	db *sql.DB
}

// Open opens (and migrates) a journal at the given path. Use ":memory:"
// for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opjournal: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("opjournal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append writes the drained operations in one transaction.
func (j *Journal) Append(ctx context.Context, ops []mop.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("opjournal: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO op_journal
		(id, scope_id, verb, target, retry_count, payload, enqueued_at, spilled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("opjournal: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, op := range ops {
		payload, err := encodePayload(op)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			op.ID.Bytes(), op.ScopeID.Bytes(), op.Verb, op.Target,
			op.RetryCount, payload, op.EnqueuedAt.UnixMilli(), now,
		); err != nil {
			return fmt.Errorf("opjournal: insert %s: %w", op.ID, err)
		}
	}
	return tx.Commit()
}

// List returns every journaled entry for a scope, oldest first.
func (j *Journal) List(ctx context.Context, scopeID idwrap.IDWrap) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT
		id, scope_id, verb, target, retry_count, payload, enqueued_at, spilled_at
		FROM op_journal WHERE scope_id = ? ORDER BY rowid`, scopeID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("opjournal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			idRaw, scopeRaw       []byte
			e                     Entry
			enqueuedMs, spilledMs int64
		)
		if err := rows.Scan(&idRaw, &scopeRaw, &e.Verb, &e.Target,
			&e.RetryCount, &e.Payload, &enqueuedMs, &spilledMs); err != nil {
			return nil, fmt.Errorf("opjournal: scan: %w", err)
		}
		if e.ID, err = idwrap.NewFromBytes(idRaw); err != nil {
			return nil, fmt.Errorf("opjournal: bad id: %w", err)
		}
		if e.ScopeID, err = idwrap.NewFromBytes(scopeRaw); err != nil {
			return nil, fmt.Errorf("opjournal: bad scope id: %w", err)
		}
		e.EnqueuedAt = time.UnixMilli(enqueuedMs)
		e.SpilledAt = time.UnixMilli(spilledMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes every entry for a scope, returning the number removed.
func (j *Journal) Purge(ctx context.Context, scopeID idwrap.IDWrap) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM op_journal WHERE scope_id = ?`, scopeID.Bytes())
	if err != nil {
		return 0, fmt.Errorf("opjournal: purge: %w", err)
	}
	return res.RowsAffected()
}

func encodePayload(op mop.Operation) ([]byte, error) {
	var v any
	switch {
	case op.Subblock != nil:
		v = op.Subblock
	case op.Variable != nil:
		v = op.Variable
	case op.Structural != nil:
		v = op.Structural
	default:
		v = struct{}{}
	}
	b, err := gojson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("opjournal: encode payload for %s: %w", op.ID, err)
	}
	return b, nil
}
