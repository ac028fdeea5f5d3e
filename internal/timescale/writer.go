package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"meme-surge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Bar struct {
	Asset    string
	Interval int
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Fallback bool
}

type PortfolioSnapshot struct {
	Time     time.Time
	Status   string
	Value    float64
	Cash     float64
	Drawdown float64
	Degraded bool
}

type Trade struct {
	ID       string
	Time     time.Time
	Asset    string
	Side     string
	Quantity float64
	Price    float64
}

type Writer struct {
	db            *sql.DB
	log           *zap.Logger
	schema        string
	portfolios    chan PortfolioSnapshot
	trades        chan Trade
	bars          chan Bar
	started       atomic.Bool
	dropPortfolio atomic.Uint64
	dropTrade     atomic.Uint64
	dropBar       atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, log, cfg.Schema, cfg.QueueSize)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, log *zap.Logger, schema string, queueSize int) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:         db,
		log:        log,
		schema:     schema,
		portfolios: make(chan PortfolioSnapshot, queueSize),
		trades:     make(chan Trade, queueSize),
		bars:       make(chan Bar, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Dropped reports how many records were discarded on a full queue.
func (w *Writer) Dropped() uint64 {
	if w == nil {
		return 0
	}
	return w.dropPortfolio.Load() + w.dropTrade.Load() + w.dropBar.Load()
}

func (w *Writer) EnqueuePortfolio(snapshot PortfolioSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.portfolios <- snapshot:
		return
	default:
		if w.dropPortfolio.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale portfolio queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(trade Trade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- trade:
		return
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) EnqueueBar(bar Bar) {
	if w == nil {
		return
	}
	select {
	case w.bars <- bar:
		return
	default:
		if w.dropBar.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale bar queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.portfolios:
			w.writePortfolio(ctx, snap)
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		case bar := <-w.bars:
			w.writeBar(ctx, bar)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		interval INTEGER NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		fallback BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (ts, asset, interval)
	)`, w.table("market_bars"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		cash DOUBLE PRECISION NOT NULL,
		drawdown DOUBLE PRECISION NOT NULL,
		degraded BOOLEAN NOT NULL
	)`, w.table("portfolio_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		id TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, id)
	)`, w.table("trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, name := range []string{"market_bars", "portfolio_snapshots", "trades"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writePortfolio(ctx context.Context, snap PortfolioSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, status, value, cash, drawdown, degraded) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("portfolio_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Status,
		snap.Value,
		snap.Cash,
		snap.Drawdown,
		snap.Degraded,
	); err != nil && w.log != nil {
		w.log.Warn("timescale portfolio insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, trade Trade) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, id, asset, side, quantity, price) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (ts, id) DO NOTHING`, w.table("trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time,
		trade.ID,
		trade.Asset,
		trade.Side,
		trade.Quantity,
		trade.Price,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) writeBar(ctx context.Context, bar Bar) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, interval, open, high, low, close, volume, fallback
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9
	)
	ON CONFLICT (ts, asset, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		fallback = EXCLUDED.fallback`, w.table("market_bars"))
	if _, err := w.db.ExecContext(ctx, query,
		bar.Start,
		bar.Asset,
		bar.Interval,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.Volume,
		bar.Fallback,
	); err != nil && w.log != nil {
		w.log.Warn("timescale bar upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
