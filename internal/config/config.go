package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Bot       BotConfig       `yaml:"bot"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	State     StateConfig     `yaml:"state"`
	Trading   TradingConfig   `yaml:"trading"`
	Risk      RiskConfig      `yaml:"risk"`
	Policy    PolicyConfig    `yaml:"policy"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type BotConfig struct {
	Name string `yaml:"name"`
}

const (
	ExchangeModeLive  = "live"
	ExchangeModePaper = "paper"
)

type ExchangeConfig struct {
	Mode             string             `yaml:"mode"`
	BaseURL          string             `yaml:"base_url"`
	Timeout          time.Duration      `yaml:"timeout"`
	APIKey           string             `yaml:"api_key"`
	APISecret        string             `yaml:"api_secret"`
	RateLimitDelay   time.Duration      `yaml:"rate_limit_delay"`
	RetryAttempts    int                `yaml:"retry_attempts"`
	NativeCurrency   string             `yaml:"native_currency"`
	AltCurrency      string             `yaml:"alt_currency"`
	PaperBalances    map[string]float64 `yaml:"paper_balances"`
	PaperVolatility  float64            `yaml:"paper_volatility"`
	HistoryInterval  int                `yaml:"history_interval"`
	FallbackBarCount int                `yaml:"fallback_bar_count"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	StatusFile string `yaml:"status_file"`
}

type AssetConfig struct {
	Symbol         string  `yaml:"symbol"`
	Pair           string  `yaml:"pair"`
	BalanceCode    string  `yaml:"balance_code"`
	ReferencePrice float64 `yaml:"reference_price"`
}

const (
	CashSourceConfig   = "config"
	CashSourceExchange = "exchange"
)

type TradingConfig struct {
	Assets           []AssetConfig `yaml:"assets"`
	Capital          float64       `yaml:"capital"`
	CashSource       string        `yaml:"cash_source"`
	TradeFrequency   time.Duration `yaml:"trade_frequency"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

type RiskConfig struct {
	MaxDrawdown         float64            `yaml:"max_drawdown"`
	MaxPositionSize     float64            `yaml:"max_position_size"`
	MinOrderSize        map[string]float64 `yaml:"min_order_size"`
	FeeRate             float64            `yaml:"fee_rate"`
	FxRate              float64            `yaml:"fx_rate"`
	BuyThreshold        float64            `yaml:"buy_threshold"`
	SellThreshold       float64            `yaml:"sell_threshold"`
	TradeOnDegradedData *bool              `yaml:"trade_on_degraded_data"`
}

func (r RiskConfig) TradeOnDegradedDataValue() bool {
	if r.TradeOnDegradedData == nil {
		return true
	}
	return *r.TradeOnDegradedData
}

const (
	PolicyKindMomentum = "momentum"
	PolicyKindONNX     = "onnx"
)

type PolicyConfig struct {
	Kind          string  `yaml:"kind"`
	ModelPath     string  `yaml:"model_path"`
	LibraryPath   string  `yaml:"library_path"`
	InputName     string  `yaml:"input_name"`
	OutputName    string  `yaml:"output_name"`
	MomentumGain  float64 `yaml:"momentum_gain"`
	SentimentGain float64 `yaml:"sentiment_gain"`
	FractionScale float64 `yaml:"fraction_scale"`
}

const (
	SentimentKindStatic = "static"
	SentimentKindX      = "x"
)

type SentimentConfig struct {
	Kind        string            `yaml:"kind"`
	BaseURL     string            `yaml:"base_url"`
	BearerToken string            `yaml:"bearer_token"`
	MaxResults  int               `yaml:"max_results"`
	Pacing      time.Duration     `yaml:"pacing"`
	Timeout     time.Duration     `yaml:"timeout"`
	Queries     map[string]string `yaml:"queries"`
	Neutral     *float64          `yaml:"neutral"`
}

// NeutralValue is the score used when sentiment is unavailable. An unset
// neutral defaults to 0.5; an explicit 0 is kept.
func (s SentimentConfig) NeutralValue() float64 {
	if s.Neutral == nil {
		return 0.5
	}
	return *s.Neutral
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type TelegramConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Token                string        `yaml:"token"`
	ChatID               string        `yaml:"chat_id"`
	OperatorEnabled      bool          `yaml:"operator_enabled"`
	OperatorPollInterval time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedIDs   []int64       `yaml:"operator_allowed_user_ids"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Symbols returns the configured asset identifiers in their configured order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Trading.Assets))
	for _, asset := range c.Trading.Assets {
		out = append(out, asset.Symbol)
	}
	return out
}

func (c *Config) Asset(symbol string) (AssetConfig, bool) {
	for _, asset := range c.Trading.Assets {
		if asset.Symbol == symbol {
			return asset, true
		}
	}
	return AssetConfig{}, false
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// knownAssets carries exchange facts for the assets the bot was built around.
var knownAssets = map[string]struct {
	pair        string
	balanceCode string
	reference   float64
	minOrder    float64
}{
	"SOLUSD":  {pair: "SOLUSD", balanceCode: "SOL", reference: 150.0, minOrder: 0.1},
	"DOGEUSD": {pair: "XDGUSD", balanceCode: "XXDG", reference: 0.15, minOrder: 50.0},
	"SHIBUSD": {pair: "SHIBUSD", balanceCode: "SHIB", reference: 0.000015, minOrder: 500000.0},
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.Bot.Name == "" {
		cfg.Bot.Name = "NeuroMemeSurge"
	}
	if cfg.Exchange.Mode == "" {
		cfg.Exchange.Mode = ExchangeModePaper
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.kraken.com"
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Exchange.RateLimitDelay == 0 {
		cfg.Exchange.RateLimitDelay = time.Second
	}
	if cfg.Exchange.RetryAttempts == 0 {
		cfg.Exchange.RetryAttempts = 3
	}
	if cfg.Exchange.NativeCurrency == "" {
		cfg.Exchange.NativeCurrency = "ZUSD"
	}
	if cfg.Exchange.AltCurrency == "" {
		cfg.Exchange.AltCurrency = "ZCAD"
	}
	if cfg.Exchange.PaperVolatility == 0 {
		cfg.Exchange.PaperVolatility = 0.01
	}
	if cfg.Exchange.HistoryInterval == 0 {
		cfg.Exchange.HistoryInterval = 60
	}
	if cfg.Exchange.FallbackBarCount == 0 {
		cfg.Exchange.FallbackBarCount = 60
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/meme-surge-bot.db"
	}
	if len(cfg.Trading.Assets) == 0 {
		cfg.Trading.Assets = []AssetConfig{{Symbol: "SOLUSD"}, {Symbol: "DOGEUSD"}, {Symbol: "SHIBUSD"}}
	}
	for i := range cfg.Trading.Assets {
		asset := &cfg.Trading.Assets[i]
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		known, ok := knownAssets[asset.Symbol]
		if asset.Pair == "" {
			asset.Pair = asset.Symbol
			if ok {
				asset.Pair = known.pair
			}
		}
		if asset.BalanceCode == "" && ok {
			asset.BalanceCode = known.balanceCode
		}
		if asset.ReferencePrice == 0 && ok {
			asset.ReferencePrice = known.reference
		}
	}
	if cfg.Trading.Capital == 0 {
		cfg.Trading.Capital = 400
	}
	if cfg.Trading.CashSource == "" {
		cfg.Trading.CashSource = CashSourceConfig
	}
	if cfg.Trading.TradeFrequency == 0 {
		cfg.Trading.TradeFrequency = 5 * time.Minute
	}
	if cfg.Trading.RecoveryInterval == 0 {
		cfg.Trading.RecoveryInterval = 60 * time.Second
	}
	if cfg.Risk.MaxDrawdown == 0 {
		cfg.Risk.MaxDrawdown = 0.25
	}
	if cfg.Risk.MaxPositionSize == 0 {
		cfg.Risk.MaxPositionSize = 0.3
	}
	if cfg.Risk.MinOrderSize == nil {
		cfg.Risk.MinOrderSize = make(map[string]float64)
	}
	for _, asset := range cfg.Trading.Assets {
		if _, ok := cfg.Risk.MinOrderSize[asset.Symbol]; ok {
			continue
		}
		if known, ok := knownAssets[asset.Symbol]; ok {
			cfg.Risk.MinOrderSize[asset.Symbol] = known.minOrder
		}
	}
	if cfg.Risk.FeeRate == 0 {
		cfg.Risk.FeeRate = 0.0026
	}
	if cfg.Risk.FxRate == 0 {
		cfg.Risk.FxRate = 1.37
	}
	if cfg.Risk.BuyThreshold == 0 {
		cfg.Risk.BuyThreshold = 0.3
	}
	if cfg.Risk.SellThreshold == 0 {
		cfg.Risk.SellThreshold = 0.3
	}
	if cfg.Policy.Kind == "" {
		cfg.Policy.Kind = PolicyKindMomentum
		if cfg.Policy.ModelPath != "" {
			cfg.Policy.Kind = PolicyKindONNX
		}
	}
	if cfg.Policy.InputName == "" {
		cfg.Policy.InputName = "input"
	}
	if cfg.Policy.OutputName == "" {
		cfg.Policy.OutputName = "output"
	}
	if cfg.Policy.MomentumGain == 0 {
		cfg.Policy.MomentumGain = 20
	}
	if cfg.Policy.SentimentGain == 0 {
		cfg.Policy.SentimentGain = 2
	}
	if cfg.Policy.FractionScale == 0 {
		cfg.Policy.FractionScale = 2
	}
	if cfg.Sentiment.Kind == "" {
		cfg.Sentiment.Kind = SentimentKindStatic
	}
	if cfg.Sentiment.BaseURL == "" {
		cfg.Sentiment.BaseURL = "https://api.x.com"
	}
	if cfg.Sentiment.MaxResults == 0 {
		cfg.Sentiment.MaxResults = 10
	}
	if cfg.Sentiment.Pacing == 0 {
		cfg.Sentiment.Pacing = 5 * time.Second
	}
	if cfg.Sentiment.Timeout == 0 {
		cfg.Sentiment.Timeout = 10 * time.Second
	}
	if cfg.Sentiment.Neutral == nil {
		neutral := 0.5
		cfg.Sentiment.Neutral = &neutral
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8000"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := strings.TrimSpace(os.Getenv("KRAKEN_API_KEY")); val != "" {
		cfg.Exchange.APIKey = val
	}
	if val := strings.TrimSpace(os.Getenv("KRAKEN_API_SECRET")); val != "" {
		cfg.Exchange.APISecret = val
	}
	if val := strings.TrimSpace(os.Getenv("X_BEARER_TOKEN")); val != "" {
		cfg.Sentiment.BearerToken = val
	}
	if val := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_TOKEN")); val != "" {
		cfg.Telegram.Token = val
	}
	if val := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_CHAT_ID")); val != "" {
		cfg.Telegram.ChatID = val
	}
	if val := strings.TrimSpace(os.Getenv("BOT_TIMESCALE_DSN")); val != "" {
		cfg.Timescale.DSN = val
	}
}

func validate(cfg *Config) error {
	switch cfg.Exchange.Mode {
	case ExchangeModeLive:
		if strings.TrimSpace(cfg.Exchange.APIKey) == "" || strings.TrimSpace(cfg.Exchange.APISecret) == "" {
			return errors.New("exchange.api_key and exchange.api_secret are required in live mode")
		}
	case ExchangeModePaper:
	default:
		return fmt.Errorf("exchange.mode must be %q or %q", ExchangeModeLive, ExchangeModePaper)
	}
	if cfg.Exchange.Timeout < 0 || cfg.Exchange.RateLimitDelay < 0 {
		return errors.New("exchange timeout and rate_limit_delay must be >= 0")
	}
	if cfg.Exchange.RetryAttempts < 1 {
		return errors.New("exchange.retry_attempts must be >= 1")
	}
	if cfg.Exchange.NativeCurrency == cfg.Exchange.AltCurrency {
		return errors.New("exchange.native_currency and exchange.alt_currency must differ")
	}
	if cfg.Exchange.FallbackBarCount < 20 {
		return errors.New("exchange.fallback_bar_count must be >= 20")
	}
	seen := make(map[string]struct{}, len(cfg.Trading.Assets))
	for _, asset := range cfg.Trading.Assets {
		if asset.Symbol == "" {
			return errors.New("trading.assets[].symbol is required")
		}
		if _, ok := seen[asset.Symbol]; ok {
			return fmt.Errorf("trading.assets contains duplicate symbol %s", asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
		if asset.ReferencePrice <= 0 {
			return fmt.Errorf("trading.assets[%s].reference_price must be > 0", asset.Symbol)
		}
		if asset.BalanceCode == "" {
			return fmt.Errorf("trading.assets[%s].balance_code is required", asset.Symbol)
		}
		if size, ok := cfg.Risk.MinOrderSize[asset.Symbol]; !ok || size <= 0 {
			return fmt.Errorf("risk.min_order_size[%s] must be > 0", asset.Symbol)
		}
	}
	if cfg.Trading.Capital <= 0 {
		return errors.New("trading.capital must be > 0")
	}
	if cfg.Trading.CashSource != CashSourceConfig && cfg.Trading.CashSource != CashSourceExchange {
		return fmt.Errorf("trading.cash_source must be %q or %q", CashSourceConfig, CashSourceExchange)
	}
	if cfg.Trading.TradeFrequency <= 0 || cfg.Trading.RecoveryInterval <= 0 {
		return errors.New("trading.trade_frequency and trading.recovery_interval must be > 0")
	}
	if cfg.Risk.MaxDrawdown <= 0 || cfg.Risk.MaxDrawdown > 1 {
		return errors.New("risk.max_drawdown must be in (0, 1]")
	}
	if cfg.Risk.MaxPositionSize <= 0 || cfg.Risk.MaxPositionSize > 1 {
		return errors.New("risk.max_position_size must be in (0, 1]")
	}
	if cfg.Risk.FeeRate < 0 || cfg.Risk.FeeRate >= 1 {
		return errors.New("risk.fee_rate must be in [0, 1)")
	}
	if cfg.Risk.FxRate <= 0 {
		return errors.New("risk.fx_rate must be > 0")
	}
	if cfg.Risk.BuyThreshold < 0 || cfg.Risk.BuyThreshold >= 1 || cfg.Risk.SellThreshold < 0 || cfg.Risk.SellThreshold >= 1 {
		return errors.New("risk buy/sell thresholds must be in [0, 1)")
	}
	switch cfg.Policy.Kind {
	case PolicyKindMomentum:
	case PolicyKindONNX:
		if cfg.Policy.ModelPath == "" {
			return errors.New("policy.model_path is required for the onnx policy")
		}
	default:
		return fmt.Errorf("unknown policy.kind %q", cfg.Policy.Kind)
	}
	switch cfg.Sentiment.Kind {
	case SentimentKindStatic, SentimentKindX:
	default:
		return fmt.Errorf("unknown sentiment.kind %q", cfg.Sentiment.Kind)
	}
	if n := cfg.Sentiment.NeutralValue(); n < 0 || n > 1 || math.IsNaN(n) {
		return errors.New("sentiment.neutral must be in [0, 1]")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if cfg.Telegram.OperatorEnabled && !cfg.Telegram.Enabled {
		return errors.New("telegram.operator_enabled requires telegram.enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
