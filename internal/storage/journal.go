package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"

	"github.com/randomness11/probablyprofit/internal/event"
)

// Journal is the audit trail for execution events, backed by SQLite.
// It consumes the event bus and persists fills, completions, rejections
// and kill-switch transitions.
//
// Bus delivery during reconciliation recovery is at-least-once; the
// journal suppresses duplicates with a (order_id, fill_seq) primary key,
// making it the reference consumer for that contract.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode
// enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			order_id TEXT NOT NULL,
			fill_seq INTEGER NOT NULL,
			market_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			size TEXT NOT NULL,
			price TEXT NOT NULL,
			ts INTEGER NOT NULL,
			PRIMARY KEY (order_id, fill_seq)
		);`,
		`CREATE TABLE IF NOT EXISTS completions (
			order_id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status TEXT NOT NULL,
			filled_size TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rejections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS halts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			active INTEGER NOT NULL,
			reason TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Journal{db: db}, nil
}

// DB exposes the underlying handle for health probes.
func (j *Journal) DB() *sql.DB {
	return j.db
}

// Consume drains the subscription channel until it closes or ctx ends.
// Run in its own goroutine.
func (j *Journal) Consume(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := j.Record(ctx, ev); err != nil {
				slog.Error("journal write failed",
					slog.Uint64("seq", ev.GetSeq()),
					slog.Any("error", err))
			}
		}
	}
}

// Record persists a single event. Duplicate fills and completions are
// silently ignored.
func (j *Journal) Record(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.FillEvent:
		_, err := j.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO fills (order_id, fill_seq, market_id, outcome, side, size, price, ts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.OrderID, e.FillSeq, e.MarketID, e.Outcome, string(e.Side),
			e.Size.String(), e.Price.String(), e.Ts.UnixMilli())
		return err

	case event.OrderCompleteEvent:
		_, err := j.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO completions (order_id, market_id, outcome, status, filled_size, ts)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.OrderID, e.MarketID, e.Outcome, string(e.Status),
			e.FilledSize.String(), e.Ts.UnixMilli())
		return err

	case event.RejectEvent:
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO rejections (market_id, outcome, reason, ts) VALUES (?, ?, ?, ?)`,
			e.MarketID, e.Outcome, e.Reason, e.Ts.UnixMilli())
		return err

	case event.KillSwitchEvent:
		active := 0
		if e.Active {
			active = 1
		}
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO halts (active, reason, ts) VALUES (?, ?, ?)`,
			active, e.Reason, e.Ts.UnixMilli())
		return err
	}
	return nil
}

// FillCount returns the number of journaled fills for an order.
func (j *Journal) FillCount(ctx context.Context, orderID string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fills WHERE order_id = ?", orderID).Scan(&n)
	return n, err
}

// RejectionCount returns the number of journaled rejections.
func (j *Journal) RejectionCount(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rejections").Scan(&n)
	return n, err
}

// CompletionStatus returns the journaled terminal status for an order.
// Empty string when no completion was recorded.
func (j *Journal) CompletionStatus(ctx context.Context, orderID string) (string, error) {
	var status string
	err := j.db.QueryRowContext(ctx,
		"SELECT status FROM completions WHERE order_id = ?", orderID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return status, err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
