package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS history (
	key  TEXT    NOT NULL,
	seq  INTEGER NOT NULL,
	role TEXT    NOT NULL,
	text TEXT    NOT NULL,
	at   TEXT    NOT NULL,
	PRIMARY KEY (key, seq)
);`

// Checkpoint persists in-memory transcripts to a sqlite file so a
// restart does not lose open conversations.
type Checkpoint struct {
	db *sql.DB
}

func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(checkpointSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

// Save replaces the stored snapshot with the given transcripts in a
// single transaction.
func (c *Checkpoint) Save(ctx context.Context, all map[string][]Turn) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO history (key, seq, role, text, at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare checkpoint insert: %w", err)
	}
	defer stmt.Close()

	for key, turns := range all {
		for seq, turn := range turns {
			_, err := stmt.ExecContext(ctx, key, seq, string(turn.Role), turn.Text,
				turn.At.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("insert checkpoint row: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load reads the stored snapshot back, ordered by sequence within each
// transcript.
func (c *Checkpoint) Load(ctx context.Context) (map[string][]Turn, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, role, text, at FROM history ORDER BY key, seq`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	defer rows.Close()

	all := make(map[string][]Turn)
	for rows.Next() {
		var key, role, text, at string
		if err := rows.Scan(&key, &role, &text, &at); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint timestamp: %w", err)
		}
		all[key] = append(all[key], Turn{Role: Role(role), Text: text, At: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read checkpoint rows: %w", err)
	}
	return all, nil
}

func (c *Checkpoint) Close() error { return c.db.Close() }
