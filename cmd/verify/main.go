package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"meme-surge-bot/internal/account"
	"meme-surge-bot/internal/app"
	"meme-surge-bot/internal/config"
	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/exec"
	"meme-surge-bot/internal/logging"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	defaultVerifyEnvFile = ".env"
	defaultVerifyTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	assetFlag := flag.String("asset", "", "asset to verify (defaults to the first configured asset)")
	dryRun := flag.Bool("dry-run", true, "print balances, tickers and the funds check without ordering")
	asJSON := flag.Bool("json", false, "print raw balances as JSON")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	asset := strings.ToUpper(strings.TrimSpace(*assetFlag))
	if asset == "" {
		asset = cfg.Symbols()[0]
	}
	assetCfg, ok := cfg.Asset(asset)
	if !ok {
		fatal(fmt.Errorf("asset %s is not configured", asset))
	}

	venue, err := app.NewExchange(cfg, log)
	if err != nil {
		fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultVerifyTimeout)
	defer cancel()

	holdings, err := account.New(venue, account.ConfigFrom(cfg), log).Reconcile(ctx)
	if err != nil {
		fatal(err)
	}
	if *asJSON {
		payload, err := json.MarshalIndent(holdings.Balances, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Printf("balances:\n%s\n", payload)
	} else {
		printBalances(holdings.Balances)
	}

	for _, symbol := range cfg.Symbols() {
		ticker, err := venue.Ticker(ctx, symbol)
		if err != nil {
			fmt.Printf("ticker %s: error: %v\n", symbol, err)
			continue
		}
		fmt.Printf("ticker %s: last=%.8g bid=%.8g ask=%.8g\n", symbol, ticker.Last, ticker.Bid, ticker.Ask)
	}

	ticker, err := venue.Ticker(ctx, asset)
	if err != nil {
		fatal(fmt.Errorf("ticker %s: %w", asset, err))
	}
	if ticker.Last <= 0 {
		fatal(errors.New("ticker price must be > 0"))
	}
	limits := strategy.LimitsFromConfig(cfg.Risk)
	minOrder := limits.MinOrderSize[asset]
	check := exec.EvaluateFunds(holdings.Balances, cfg.Exchange.NativeCurrency, cfg.Exchange.AltCurrency,
		minOrder, ticker.Last, limits.FeeRate, limits.FxRate)
	fmt.Printf("verify order: asset=%s pair=%s side=buy quantity=%.8g price=%.8g\n", asset, assetCfg.Pair, minOrder, ticker.Last)
	fmt.Printf("funds check: required %.4f %s or %.4f %s, have %.4f %s and %.4f %s, pass=%t via=%s\n",
		check.RequiredNative, cfg.Exchange.NativeCurrency,
		check.RequiredAlt, cfg.Exchange.AltCurrency,
		check.NativeBalance, cfg.Exchange.NativeCurrency,
		check.AltBalance, cfg.Exchange.AltCurrency,
		check.OK(), check.Via,
	)
	if *dryRun {
		return
	}
	if !check.OK() {
		fatal(exec.ErrInsufficientFunds)
	}

	pf := portfolio.New(cfg.Symbols(), holdings.Cash, holdings.Positions)
	executor := exec.New(exec.Config{
		Limits:         limits,
		NativeCurrency: cfg.Exchange.NativeCurrency,
		AltCurrency:    cfg.Exchange.AltCurrency,
		RetryAttempts:  cfg.Exchange.RetryAttempts,
	}, venue, pf, nil, log, nil)
	res, err := executor.Execute(ctx, exec.Order{Asset: asset, Side: exchange.SideBuy, Quantity: minOrder, Price: ticker.Last})
	if err != nil {
		fatal(err)
	}
	log.Info("verify order filled", zap.String("trade_id", res.Entry.ID))
	fmt.Printf("exchange response: order_ids=%s %s\n", strings.Join(res.Confirmation.OrderIDs, ","), res.Confirmation.Description)
}

func printBalances(balances map[string]float64) {
	codes := make([]string, 0, len(balances))
	for code := range balances {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("balance %s: %.8g\n", code, balances[code])
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
