package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meme-surge-bot/internal/account"
	"meme-surge-bot/internal/alerts"
	"meme-surge-bot/internal/config"
	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/exec"
	"meme-surge-bot/internal/kraken"
	"meme-surge-bot/internal/market"
	"meme-surge-bot/internal/metrics"
	"meme-surge-bot/internal/policy"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/ratelimit"
	"meme-surge-bot/internal/sentiment"
	"meme-surge-bot/internal/server"
	"meme-surge-bot/internal/state"
	"meme-surge-bot/internal/state/sqlite"
	"meme-surge-bot/internal/strategy"
	"meme-surge-bot/internal/timescale"

	"go.uber.org/zap"
)

type notifier interface {
	Send(ctx context.Context, message string) error
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
}

// App owns the portfolio and runs the trading loop. Readers get copies
// through Status, Portfolio and RecentTrades.
type App struct {
	cfg         *config.Config
	log         *zap.Logger
	exchange    exchange.Exchange
	feed        *market.Feed
	sentiment   sentiment.Provider
	policy      policy.Policy
	governor    *strategy.Governor
	account     *account.Account
	portfolio   *portfolio.Portfolio
	executor    *exec.Executor
	store       state.Store
	trades      state.TradeLog
	journal     state.DecisionJournal
	timescale   *timescale.Writer
	alerts      notifier
	server      *server.Server
	metricsHTTP *server.Server
	metrics     *metrics.Metrics
	closers     []io.Closer

	mu             sync.RWMutex
	status         state.StatusSnapshot
	prices         map[string]float64
	cycles         int64
	operatorWarned bool
}

// components are the collaborators New builds from config. Tests assemble
// an App from fakes instead.
type components struct {
	exchange  exchange.Exchange
	sentiment sentiment.Provider
	policy    policy.Policy
	store     state.Store
	trades    state.TradeLog
	journal   state.DecisionJournal
	alerts    notifier
	metrics   *metrics.Metrics
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{store}
	fail := func(err error) (*App, error) {
		closeAll(closers)
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	venue, err := NewExchange(cfg, log)
	if err != nil {
		return fail(err)
	}
	pol, err := newPolicy(cfg)
	if err != nil {
		return fail(err)
	}
	if closer, ok := pol.(io.Closer); ok {
		closers = append(closers, closer)
	}
	var notify notifier
	if cfg.Telegram.Enabled {
		notify = alerts.NewTelegram(cfg.Telegram, log)
	}
	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return fail(fmt.Errorf("timescale: %w", err))
	}
	if tsWriter != nil {
		closers = append(closers, tsWriter)
	}

	a := assemble(cfg, log, components{
		exchange:  exchange.NewThrottled(venue, ratelimit.New(cfg.Exchange.RateLimitDelay)),
		sentiment: newSentiment(cfg, log),
		policy:    pol,
		store:     store,
		trades:    store,
		journal:   store,
		alerts:    notify,
		metrics:   m,
	})
	a.timescale = tsWriter
	a.closers = closers

	var metricsHandler http.Handler
	if prom != nil {
		metricsHandler = prom.Handler()
	}
	if cfg.Server.Enabled {
		a.server, err = server.New(server.Config{
			Addr:           cfg.Server.Address,
			Source:         a,
			MetricsPath:    cfg.Metrics.Path,
			MetricsHandler: metricsHandler,
		}, log)
		if err != nil {
			return fail(err)
		}
	} else if metricsHandler != nil {
		a.metricsHTTP = server.NewMetrics(cfg.Metrics.Address, cfg.Metrics.Path, metricsHandler, log)
	}
	return a, nil
}

func assemble(cfg *config.Config, log *zap.Logger, c components) *App {
	if log == nil {
		log = zap.NewNop()
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNoop()
	}
	return &App{
		cfg:       cfg,
		log:       log,
		exchange:  c.exchange,
		sentiment: c.sentiment,
		policy:    c.policy,
		store:     c.store,
		trades:    c.trades,
		journal:   c.journal,
		alerts:    c.alerts,
		metrics:   c.metrics,
		governor:  strategy.NewGovernor(strategy.LimitsFromConfig(cfg.Risk), strategy.NewStateMachine()),
		account:   account.New(c.exchange, account.ConfigFrom(cfg), log),
		feed: market.NewFeed(c.exchange, market.FeedConfig{
			Interval:        cfg.Exchange.HistoryInterval,
			FallbackBars:    cfg.Exchange.FallbackBarCount,
			ReferencePrices: referencePrices(cfg),
		}, log, c.metrics),
		prices: make(map[string]float64),
	}
}

// NewExchange builds the configured venue without throttling.
func NewExchange(cfg *config.Config, log *zap.Logger) (exchange.Exchange, error) {
	switch cfg.Exchange.Mode {
	case config.ExchangeModeLive:
		pairs := make(map[string]string, len(cfg.Trading.Assets))
		for _, asset := range cfg.Trading.Assets {
			pairs[asset.Symbol] = asset.Pair
		}
		client, err := kraken.New(kraken.Config{
			BaseURL:   cfg.Exchange.BaseURL,
			Timeout:   cfg.Exchange.Timeout,
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.APISecret,
			Pairs:     pairs,
		}, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ExchangeModePaper:
		assets := make([]exchange.PaperAsset, 0, len(cfg.Trading.Assets))
		for _, asset := range cfg.Trading.Assets {
			assets = append(assets, exchange.PaperAsset{
				Symbol:         asset.Symbol,
				BalanceCode:    asset.BalanceCode,
				ReferencePrice: asset.ReferencePrice,
			})
		}
		return exchange.NewPaper(exchange.PaperConfig{
			Assets:         assets,
			Balances:       cfg.Exchange.PaperBalances,
			NativeCurrency: cfg.Exchange.NativeCurrency,
			FeeRate:        cfg.Risk.FeeRate,
			Volatility:     cfg.Exchange.PaperVolatility,
			HistoryBars:    cfg.Exchange.FallbackBarCount,
		}), nil
	default:
		return nil, fmt.Errorf("unknown exchange mode %q", cfg.Exchange.Mode)
	}
}

func newSentiment(cfg *config.Config, log *zap.Logger) sentiment.Provider {
	symbols := cfg.Symbols()
	if cfg.Sentiment.Kind != config.SentimentKindX {
		return sentiment.NewStatic(symbols, cfg.Sentiment.NeutralValue())
	}
	if cfg.Sentiment.BearerToken == "" {
		log.Warn("x sentiment selected without bearer token, using neutral scores")
		return sentiment.NewStatic(symbols, cfg.Sentiment.NeutralValue())
	}
	return sentiment.NewX(symbols, sentiment.XConfig{
		BaseURL:     cfg.Sentiment.BaseURL,
		BearerToken: cfg.Sentiment.BearerToken,
		MaxResults:  cfg.Sentiment.MaxResults,
		Pacing:      cfg.Sentiment.Pacing,
		Timeout:     cfg.Sentiment.Timeout,
		Queries:     cfg.Sentiment.Queries,
		Neutral:     cfg.Sentiment.NeutralValue(),
	}, log)
}

func newPolicy(cfg *config.Config) (policy.Policy, error) {
	n := len(cfg.Trading.Assets)
	if cfg.Policy.Kind == config.PolicyKindONNX {
		model, err := policy.NewONNX(policy.ONNXConfig{
			ModelPath:   cfg.Policy.ModelPath,
			LibraryPath: cfg.Policy.LibraryPath,
			InputName:   cfg.Policy.InputName,
			OutputName:  cfg.Policy.OutputName,
			Assets:      n,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx policy: %w", err)
		}
		return model, nil
	}
	return policy.NewMomentum(n, cfg.Policy.MomentumGain, cfg.Policy.SentimentGain, cfg.Policy.FractionScale), nil
}

func referencePrices(cfg *config.Config) map[string]float64 {
	out := make(map[string]float64, len(cfg.Trading.Assets))
	for _, asset := range cfg.Trading.Assets {
		out[asset.Symbol] = asset.ReferencePrice
	}
	return out
}

// Run starts the bot and cycles until ctx is done. Once paused the loop
// stops trading but keeps serving status until shutdown.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	for {
		if status := a.governor.Status(); status != strategy.StatusRunning {
			a.log.Warn("trading loop idle until restart", zap.String("status", string(status)))
			<-ctx.Done()
			return ctx.Err()
		}
		wait := a.cfg.Trading.TradeFrequency
		if err := a.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.metrics.CyclesFailed.Inc()
			a.log.Warn("trading cycle failed",
				zap.Error(err),
				zap.Duration("retry_in", a.cfg.Trading.RecoveryInterval),
			)
			wait = a.cfg.Trading.RecoveryInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Start reconciles holdings and starts the background services. The
// drawdown baseline is the starting cash: configured capital, or the
// reconciled quote balances under cash_source exchange. Reconciliation
// failures are fatal.
func (a *App) Start(ctx context.Context) error {
	holdings, err := a.account.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	symbols := a.cfg.Symbols()
	a.portfolio = portfolio.New(symbols, holdings.Cash, holdings.Positions)
	prices, degraded, err := a.currentPrices(ctx)
	if err != nil {
		return err
	}
	a.portfolio.MarkEntryPrices(prices)
	initial := a.portfolio.InitialValue()
	value := a.portfolio.Value(prices)
	a.executor = exec.New(exec.Config{
		Limits:         a.governor.Limits(),
		NativeCurrency: a.cfg.Exchange.NativeCurrency,
		AltCurrency:    a.cfg.Exchange.AltCurrency,
		RetryAttempts:  a.cfg.Exchange.RetryAttempts,
	}, a.exchange, a.portfolio, &tradeRecorder{app: a}, a.log, a.metrics)
	a.resumeCycleCount(ctx)
	a.governor.Start()
	a.log.Info("trading loop started",
		zap.Strings("assets", symbols),
		zap.Float64("initial_value", initial),
		zap.Float64("value", value),
		zap.Float64("cash", holdings.Cash),
		zap.Any("positions", holdings.Positions),
		zap.Bool("degraded_prices", degraded),
	)

	a.timescale.Start(ctx)
	if a.server != nil {
		go a.serve(ctx, a.server)
	}
	if a.metricsHTTP != nil {
		go a.serve(ctx, a.metricsHTTP)
	}
	a.startOperator(ctx)
	a.publishStatus(ctx, value, degraded)
	return nil
}

func (a *App) resumeCycleCount(ctx context.Context) {
	last, ok := a.journal.(interface {
		LastCycle(ctx context.Context) (int64, error)
	})
	if !ok {
		return
	}
	cycle, err := last.LastCycle(ctx)
	if err != nil {
		a.log.Warn("decision journal unreadable, cycle count restarts", zap.Error(err))
		return
	}
	a.mu.Lock()
	a.cycles = cycle
	a.mu.Unlock()
}

func (a *App) serve(ctx context.Context, srv *server.Server) {
	if err := srv.Start(ctx); err != nil {
		a.log.Error("http listener failed", zap.String("addr", srv.Addr()), zap.Error(err))
	}
}

// runCycle turns a panic inside a cycle into an ordinary cycle error.
func (a *App) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return a.cycle(ctx)
}

func (a *App) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) notify(ctx context.Context, message string) {
	if a.alerts == nil {
		return
	}
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}
