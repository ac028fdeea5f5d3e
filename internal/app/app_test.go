package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"meme-surge-bot/internal/alerts"
	"meme-surge-bot/internal/config"
	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/state"
	"meme-surge-bot/internal/strategy"

	"go.uber.org/zap"
)

type fakeExchange struct {
	mu         sync.Mutex
	prices     map[string]float64
	balances   map[string]float64
	balanceErr error
	tickerErr  error
	orders     []exchange.OrderRequest
}

func (f *fakeExchange) Balance(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	out := make(map[string]float64, len(f.balances))
	for k, v := range f.balances {
		out[k] = v
	}
	return out, nil
}

func (f *fakeExchange) Ticker(ctx context.Context, asset string) (exchange.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return exchange.Ticker{}, f.tickerErr
	}
	return exchange.Ticker{Asset: asset, Last: f.prices[asset], Time: time.Now()}, nil
}

func (f *fakeExchange) History(ctx context.Context, asset string, interval int) ([]exchange.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price := f.prices[asset]
	start := time.Now().Add(-30 * time.Hour).Truncate(time.Hour)
	bars := make([]exchange.Bar, 30)
	for i := range bars {
		bars[i] = exchange.Bar{Time: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price, Volume: 1000}
	}
	return bars, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return exchange.Confirmation{OrderIDs: []string{fmt.Sprintf("OX%d", len(f.orders))}}, nil
}

func (f *fakeExchange) setPrice(asset string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = price
}

func (f *fakeExchange) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fixedPolicy struct {
	actions []float64
	panics  bool
}

func (p *fixedPolicy) Predict(ctx context.Context, observation []float64) ([]float64, error) {
	if p.panics {
		panic("model exploded")
	}
	return append([]float64(nil), p.actions...), nil
}

type fixedSentiment struct {
	scores []float64
	err    error
}

func (s *fixedSentiment) Scores(ctx context.Context) ([]float64, error) {
	return s.scores, s.err
}

type memoryJournal struct {
	mu        sync.Mutex
	decisions []state.Decision
	trades    []portfolio.TradeLogEntry
}

func (m *memoryJournal) AppendDecision(ctx context.Context, decision state.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, decision)
	return nil
}

func (m *memoryJournal) RecentDecisions(ctx context.Context, limit int) ([]state.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]state.Decision(nil), m.decisions...), nil
}

func (m *memoryJournal) AppendTrade(ctx context.Context, entry portfolio.TradeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, entry)
	return nil
}

func (m *memoryJournal) RecentTrades(ctx context.Context, limit int) ([]portfolio.TradeLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]portfolio.TradeLogEntry(nil), m.trades...), nil
}

func (m *memoryJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions)
}

func (m *memoryJournal) last() state.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.decisions) == 0 {
		return state.Decision{}
	}
	return m.decisions[len(m.decisions)-1]
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	updates []alerts.Update
}

func (f *fakeNotifier) Send(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeNotifier) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.updates
	f.updates = nil
	return out, nil
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf("state:\n  sqlite_path: %s\n  status_file: %s\n%s",
		filepath.Join(dir, "bot.db"), filepath.Join(dir, "status.json"), body)
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

const solOnly = `
trading:
  capital: %v
  assets:
    - symbol: SOLUSD
`

type testHarness struct {
	app      *App
	exchange *fakeExchange
	journal  *memoryJournal
	store    *memoryStore
	notifier *fakeNotifier
	policy   *fixedPolicy
	sent     *fixedSentiment
}

func newHarness(t *testing.T, cfg *config.Config, ex *fakeExchange) *testHarness {
	t.Helper()
	h := &testHarness{
		exchange: ex,
		journal:  &memoryJournal{},
		store:    &memoryStore{data: make(map[string]string)},
		notifier: &fakeNotifier{},
		policy:   &fixedPolicy{actions: []float64{0, 0}},
		sent:     &fixedSentiment{scores: []float64{0.5}},
	}
	h.app = assemble(cfg, zap.NewNop(), components{
		exchange:  ex,
		sentiment: h.sent,
		policy:    h.policy,
		store:     h.store,
		trades:    h.journal,
		journal:   h.journal,
		alerts:    h.notifier,
	})
	return h
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := h.app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestCycleBuysOnStrongSignal(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{0.9, 0.1}
	h.start(t)

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if ex.orderCount() != 1 {
		t.Fatalf("expected one order, got %d", ex.orderCount())
	}
	// flat history: momentum 0, multiplier 0.5 on 0.1 * 400 / 150
	want := 0.1 * 400 / 150 * 0.5
	if got := ex.orders[0].Quantity; math.Abs(got-want) > 1e-9 || ex.orders[0].Side != exchange.SideBuy {
		t.Fatalf("unexpected order %#v, want quantity %.6f", ex.orders[0], want)
	}
	if h.app.portfolio.Position("SOLUSD").Quantity != ex.orders[0].Quantity {
		t.Fatalf("position not booked")
	}
	decision := h.journal.last()
	if len(decision.Orders) != 1 || decision.Orders[0] != "OX1" || decision.Skipped != "" {
		t.Fatalf("unexpected decision %#v", decision)
	}
	if len(decision.Observation) != strategy.ObservationLength(1) {
		t.Fatalf("unexpected observation length %d", len(decision.Observation))
	}
	if len(h.journal.trades) != 1 {
		t.Fatalf("expected trade persisted, got %d", len(h.journal.trades))
	}
	if msgs := h.notifier.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "buy") {
		t.Fatalf("expected fill alert, got %v", msgs)
	}

	raw, err := os.ReadFile(cfg.State.StatusFile)
	if err != nil {
		t.Fatalf("read status file: %v", err)
	}
	var snap state.StatusSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode status file: %v", err)
	}
	if snap.BotName != cfg.Bot.Name || snap.Status != string(strategy.StatusRunning) || snap.LastTrade == nil {
		t.Fatalf("unexpected status file %#v", snap)
	}
	if _, ok := h.store.data[state.StatusSnapshotKey]; !ok {
		t.Fatalf("status snapshot not persisted to store")
	}
}

func TestDrawdownBreachPausesWithoutOrders(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{
		prices:   map[string]float64{"SOLUSD": 150},
		balances: map[string]float64{"ZUSD": 1000},
	}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{1, 1}
	h.start(t)
	if h.app.portfolio.InitialValue() != 400 {
		t.Fatalf("expected initial value 400, got %v", h.app.portfolio.InitialValue())
	}
	// 2 SOL at 150 with no fee leaves 100 cash; at 90 the value is 280.
	if _, err := h.app.portfolio.Apply(portfolio.Fill{Asset: "SOLUSD", Side: exchange.SideBuy, Quantity: 2, Price: 150, FxRate: 1}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	ex.setPrice("SOLUSD", 90)
	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if ex.orderCount() != 0 {
		t.Fatalf("no orders may be placed on a drawdown breach, got %d", ex.orderCount())
	}
	if h.app.governor.Status() != strategy.StatusPaused {
		t.Fatalf("expected paused, got %s", h.app.governor.Status())
	}
	decision := h.journal.last()
	if decision.Skipped != skipDrawdown || decision.Value != 280 {
		t.Fatalf("unexpected decision %#v", decision)
	}
	if got := h.app.Status(); got.Status != string(strategy.StatusPaused) || got.PortfolioValue != 280 {
		t.Fatalf("unexpected published status %#v", got)
	}
	msgs := h.notifier.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "drawdown") {
		t.Fatalf("expected drawdown alert, got %v", msgs)
	}

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if ex.orderCount() != 0 || h.journal.last().Skipped != skipPaused {
		t.Fatalf("paused loop must keep skipping")
	}
}

func TestDrawdownBaselineIsStartingCapital(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 100))
	ex := &fakeExchange{
		prices:   map[string]float64{"SOLUSD": 150},
		balances: map[string]float64{"SOL": 2, "ZUSD": 1000},
	}
	h := newHarness(t, cfg, ex)
	h.start(t)
	if got := h.app.portfolio.InitialValue(); got != 100 {
		t.Fatalf("expected baseline at configured capital 100, got %v", got)
	}
	if got := h.app.Status().PortfolioValue; got != 400 {
		t.Fatalf("expected startup value 400 including reconciled SOL, got %v", got)
	}

	ex.setPrice("SOLUSD", 40)
	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if h.app.governor.Status() != strategy.StatusRunning {
		t.Fatalf("value 180 against capital 100 is no drawdown, got %s", h.app.governor.Status())
	}
	if decision := h.journal.last(); decision.Skipped != "" || decision.Value != 180 {
		t.Fatalf("unexpected decision %#v", decision)
	}
}

func TestDrawdownBaselineUsesExchangeCash(t *testing.T) {
	cfg := loadTestConfig(t, `
trading:
  cash_source: exchange
  assets:
    - symbol: SOLUSD
`)
	ex := &fakeExchange{
		prices:   map[string]float64{"SOLUSD": 150},
		balances: map[string]float64{"SOL": 1, "ZUSD": 100, "ZCAD": 63},
	}
	h := newHarness(t, cfg, ex)
	h.start(t)
	want := 63 + 100*cfg.Risk.FxRate
	if got := h.app.portfolio.InitialValue(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected baseline at reconciled cash %.2f, got %v", want, got)
	}
}

func TestInvalidObservationSkipsCycle(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{1, 1}
	h.sent.scores = []float64{math.NaN()}
	h.start(t)
	before := h.app.portfolio.Snapshot()

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("invalid observation must skip, not fail the cycle: %v", err)
	}
	if ex.orderCount() != 0 {
		t.Fatalf("invalid observations must not trade")
	}
	if !reflect.DeepEqual(before, h.app.portfolio.Snapshot()) {
		t.Fatalf("portfolio changed on an invalid observation")
	}
	if h.app.governor.Status() != strategy.StatusRunning {
		t.Fatalf("expected running, got %s", h.app.governor.Status())
	}
	if decision := h.journal.last(); decision.Skipped != skipInvalid {
		t.Fatalf("expected journaled skip, got %#v", decision)
	}
	if got := h.app.Status(); got.Status != string(strategy.StatusRunning) || got.PortfolioValue != 400 {
		t.Fatalf("expected status published after skip, got %#v", got)
	}
}

func TestInvalidActionsSkipCycle(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{math.Inf(1), 1}
	h.start(t)

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("invalid actions must skip, not fail the cycle: %v", err)
	}
	if ex.orderCount() != 0 || h.journal.last().Skipped != skipInvalid {
		t.Fatalf("expected skipped cycle without orders, got %#v", h.journal.last())
	}
}

func TestRunKeepsTradeCadenceOnInvalidObservation(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400)+"  trade_frequency: 10ms\n  recovery_interval: 1h\n")
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.sent.scores = []float64{math.NaN()}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := h.app.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected run to stop on deadline, got %v", err)
	}
	if n := h.journal.count(); n < 2 {
		t.Fatalf("expected repeated cycles at trade_frequency, got %d", n)
	}
}

func TestSentimentFailureUsesNeutral(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.sent.err = errors.New("http 429")
	h.start(t)

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	obs := h.journal.last().Observation
	if obs[2] != cfg.Sentiment.NeutralValue() {
		t.Fatalf("expected neutral sentiment %.2f, got %v", cfg.Sentiment.NeutralValue(), obs[2])
	}
}

func TestTickerFailureMarksDegradedAndCanSkip(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400)+"risk:\n  trade_on_degraded_data: false\n")
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{1, 1}
	h.start(t)

	ex.mu.Lock()
	ex.tickerErr = fmt.Errorf("timeout: %w", exchange.ErrTransient)
	ex.prices["SOLUSD"] = 160
	ex.mu.Unlock()
	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	decision := h.journal.last()
	if !decision.Degraded || decision.Skipped != skipDegraded {
		t.Fatalf("expected degraded skip, got %#v", decision)
	}
	if ex.orderCount() != 0 {
		t.Fatalf("degraded cycles must not trade when disabled")
	}
	if price := h.app.Portfolio().Assets[0].Price; price != 160 {
		t.Fatalf("expected fallback to latest live close 160, got %v", price)
	}
	if !h.app.Status().Degraded {
		t.Fatalf("expected degraded status")
	}
}

func TestStartFailsOnAuthError(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balanceErr: exchange.ErrAuth}
	h := newHarness(t, cfg, ex)
	if err := h.app.Start(context.Background()); !errors.Is(err, exchange.ErrAuth) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestRunCycleRecoversPanic(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.start(t)
	h.policy.panics = true
	err := h.app.runCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected recovered panic, got %v", err)
	}
}

func TestSellClampsToHoldings(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"SOL": 0.15, "ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{-1, 1}
	h.start(t)

	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if ex.orderCount() != 1 || ex.orders[0].Side != exchange.SideSell || ex.orders[0].Quantity != 0.15 {
		t.Fatalf("expected sell of entire 0.15 holding, got %#v", ex.orders)
	}
	if h.app.portfolio.Position("SOLUSD").Quantity != 0 {
		t.Fatalf("expected flat position")
	}
}

func TestRecentTradesFallsBackToPortfolio(t *testing.T) {
	cfg := loadTestConfig(t, fmt.Sprintf(solOnly, 400))
	ex := &fakeExchange{prices: map[string]float64{"SOLUSD": 150}, balances: map[string]float64{"ZUSD": 1000}}
	h := newHarness(t, cfg, ex)
	h.policy.actions = []float64{0.9, 0.5}
	h.app.trades = nil
	h.start(t)
	if err := h.app.runCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	trades, err := h.app.RecentTrades(context.Background(), 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected in-memory trade, got %v err=%v", trades, err)
	}
}
