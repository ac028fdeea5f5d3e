package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/state"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			asset TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			cycle INTEGER PRIMARY KEY,
			ts TEXT NOT NULL,
			payload BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// AppendTrade is idempotent on the trade id.
func (s *Store) AppendTrade(ctx context.Context, entry portfolio.TradeLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, asset, side, quantity, price, ts) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		entry.ID, entry.Asset, string(entry.Side), entry.Quantity, entry.Price, entry.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecentTrades returns up to limit most recent trades, oldest first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]portfolio.TradeLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset, side, quantity, price, ts FROM (
			SELECT seq, id, asset, side, quantity, price, ts FROM trades ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []portfolio.TradeLogEntry
	for rows.Next() {
		var entry portfolio.TradeLogEntry
		var side, ts string
		if err := rows.Scan(&entry.ID, &entry.Asset, &side, &entry.Quantity, &entry.Price, &ts); err != nil {
			return nil, err
		}
		entry.Side = exchange.Side(side)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("trade %s timestamp: %w", entry.ID, err)
		}
		entry.Timestamp = parsed
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) AppendDecision(ctx context.Context, decision state.Decision) error {
	payload, err := msgpack.Marshal(decision)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (cycle, ts, payload) VALUES (?, ?, ?) ON CONFLICT(cycle) DO UPDATE SET ts = excluded.ts, payload = excluded.payload`,
		decision.Cycle, decision.Time.UTC().Format(time.RFC3339Nano), payload,
	)
	return err
}

// RecentDecisions returns up to limit most recent decisions, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]state.Decision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM decisions ORDER BY cycle DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var decision state.Decision
		if err := msgpack.Unmarshal(payload, &decision); err != nil {
			return nil, err
		}
		out = append(out, decision)
	}
	return out, rows.Err()
}

// LastCycle returns the highest journaled cycle number, or zero.
func (s *Store) LastCycle(ctx context.Context) (int64, error) {
	var cycle sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cycle) FROM decisions`).Scan(&cycle); err != nil {
		return 0, err
	}
	return cycle.Int64, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
