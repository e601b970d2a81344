package addons

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS due_items (
	email TEXT PRIMARY KEY,
	items TEXT NOT NULL DEFAULT '[]'
);`

// Ledger records which extras each guest still owes for. Items are
// stored as catalog keys; unknown entries are dropped at write time.
type Ledger struct {
	db *sql.DB
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Add appends the resolvable entries to the guest's due list and
// reports whether anything was added.
func (l *Ledger) Add(ctx context.Context, email string, entries []string, cat *Catalog) (bool, error) {
	var keys []string
	for _, e := range entries {
		if item, ok := cat.Resolve(e); ok {
			keys = append(keys, item.Key)
		}
	}
	if len(keys) == 0 {
		return false, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	current, err := readItems(ctx, tx, email)
	if err != nil {
		return false, err
	}
	merged, err := sonic.Marshal(append(current, keys...))
	if err != nil {
		return false, fmt.Errorf("encode due items: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO due_items (email, items) VALUES (?, ?)
		 ON CONFLICT(email) DO UPDATE SET items = excluded.items`,
		email, string(merged))
	if err != nil {
		return false, fmt.Errorf("write due items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return true, nil
}

func (l *Ledger) Items(ctx context.Context, email string) ([]string, error) {
	return readItems(ctx, l.db, email)
}

func (l *Ledger) Clear(ctx context.Context, email string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE due_items SET items = '[]' WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("clear due items: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error { return l.db.Close() }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readItems(ctx context.Context, q querier, email string) ([]string, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT items FROM due_items WHERE email = ?`, email).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read due items: %w", err)
	}
	var items []string
	if err := sonic.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode due items: %w", err)
	}
	return items, nil
}

type LineItem struct {
	Key       string
	Label     string
	Qty       int
	UnitPrice float64
	LineTotal float64
}

// Balance prices the due keys against the catalog, grouping repeats
// into quantities. Rows sort by label so the statement reads the same
// every time.
func Balance(keys []string, cat *Catalog) ([]LineItem, float64) {
	counts := make(map[string]int)
	var order []string
	for _, k := range keys {
		key := k
		if item, ok := cat.Resolve(k); ok {
			key = item.Key
		}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	items := make([]LineItem, 0, len(order))
	var total float64
	for _, key := range order {
		qty := counts[key]
		var unit float64
		label := labelFor(key)
		if item, ok := cat.Resolve(key); ok {
			unit = item.Price
			label = item.Label
		}
		line := unit * float64(qty)
		items = append(items, LineItem{Key: key, Label: label, Qty: qty, UnitPrice: unit, LineTotal: line})
		total += line
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items, total
}
