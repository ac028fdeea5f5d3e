// Package kraken is a REST client for the Kraken spot API implementing
// exchange.Exchange with market orders only.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"meme-surge-bot/internal/exchange"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	tickerPath   = "/0/public/Ticker"
	ohlcPath     = "/0/public/OHLC"
	balancePath  = "/0/private/Balance"
	addOrderPath = "/0/private/AddOrder"

	maxBodyBytes  = 4 << 20
	volumeDecimal = 8
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	APIKey    string
	APISecret string
	// Pairs maps configured asset symbols to Kraken pair names.
	Pairs map[string]string
}

type Client struct {
	baseURL string
	apiKey  string
	secret  []byte
	pairs   map[string]string
	http    *http.Client
	log     *zap.Logger
	now     func() time.Time

	nonceMu   sync.Mutex
	lastNonce int64
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("kraken base url is required")
	}
	var secret []byte
	if cfg.APISecret != "" {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.APISecret))
		if err != nil {
			return nil, fmt.Errorf("decode kraken api secret: %w", err)
		}
		secret = decoded
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pairs := make(map[string]string, len(cfg.Pairs))
	for symbol, pair := range cfg.Pairs {
		pairs[symbol] = pair
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		secret:  secret,
		pairs:   pairs,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}, nil
}

func (c *Client) pair(asset string) string {
	if pair, ok := c.pairs[asset]; ok && pair != "" {
		return pair
	}
	return asset
}

func (c *Client) Ticker(ctx context.Context, asset string) (exchange.Ticker, error) {
	query := url.Values{"pair": {c.pair(asset)}}
	result, err := c.public(ctx, tickerPath, query)
	if err != nil {
		return exchange.Ticker{}, fmt.Errorf("ticker %s: %w", asset, err)
	}
	entry := firstPairValue(result)
	if !entry.Exists() {
		return exchange.Ticker{}, fmt.Errorf("ticker %s: %w", asset, exchange.ErrNoData)
	}
	last := entry.Get("c.0").Float()
	if last <= 0 {
		return exchange.Ticker{}, fmt.Errorf("ticker %s: missing last trade: %w", asset, exchange.ErrNoData)
	}
	return exchange.Ticker{
		Asset: asset,
		Last:  last,
		Bid:   entry.Get("b.0").Float(),
		Ask:   entry.Get("a.0").Float(),
		Time:  c.now().UTC(),
	}, nil
}

func (c *Client) History(ctx context.Context, asset string, interval int) ([]exchange.Bar, error) {
	query := url.Values{"pair": {c.pair(asset)}}
	if interval > 0 {
		query.Set("interval", strconv.Itoa(interval))
	}
	result, err := c.public(ctx, ohlcPath, query)
	if err != nil {
		return nil, fmt.Errorf("ohlc %s: %w", asset, err)
	}
	rows := firstPairValue(result)
	if !rows.IsArray() {
		return nil, fmt.Errorf("ohlc %s: %w", asset, exchange.ErrNoData)
	}
	var bars []exchange.Bar
	rows.ForEach(func(_, row gjson.Result) bool {
		fields := row.Array()
		if len(fields) < 7 {
			return true
		}
		bars = append(bars, exchange.Bar{
			Time:   time.Unix(fields[0].Int(), 0).UTC(),
			Open:   fields[1].Float(),
			High:   fields[2].Float(),
			Low:    fields[3].Float(),
			Close:  fields[4].Float(),
			Volume: fields[6].Float(),
		})
		return true
	})
	if len(bars) == 0 {
		return nil, fmt.Errorf("ohlc %s: %w", asset, exchange.ErrNoData)
	}
	return bars, nil
}

func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	result, err := c.private(ctx, balancePath, url.Values{})
	if errors.Is(err, exchange.ErrNoData) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	var parseErr error
	result.ForEach(func(key, value gjson.Result) bool {
		amount, err := decimal.NewFromString(value.String())
		if err != nil {
			parseErr = fmt.Errorf("balance %s: %w", key.String(), err)
			return false
		}
		out[key.String()] = amount.InexactFloat64()
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (exchange.Confirmation, error) {
	if req.Side != exchange.SideBuy && req.Side != exchange.SideSell {
		return exchange.Confirmation{}, fmt.Errorf("unknown side %q: %w", req.Side, exchange.ErrRejected)
	}
	volume := TruncateVolume(req.Quantity)
	if !volume.IsPositive() {
		return exchange.Confirmation{}, fmt.Errorf("invalid volume %v: %w", req.Quantity, exchange.ErrRejected)
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	form := url.Values{
		"ordertype": {"market"},
		"type":      {string(req.Side)},
		"volume":    {volume.String()},
		"pair":      {c.pair(req.Asset)},
		"cl_ord_id": {clientID},
	}
	result, err := c.private(ctx, addOrderPath, form)
	if err != nil {
		return exchange.Confirmation{}, fmt.Errorf("add order %s: %w", req.Asset, err)
	}
	var ids []string
	for _, id := range result.Get("txid").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		return exchange.Confirmation{}, fmt.Errorf("add order %s: no txid: %w", req.Asset, exchange.ErrNoData)
	}
	return exchange.Confirmation{
		OrderIDs:    ids,
		Description: result.Get("descr.order").String(),
		Volume:      volume.InexactFloat64(),
	}, nil
}

// TruncateVolume cuts a quantity to eight decimals, truncating rather than
// rounding so the venue never sees more than was sized.
func TruncateVolume(quantity float64) decimal.Decimal {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(quantity).Truncate(volumeDecimal)
}

// FormatVolume renders TruncateVolume for the order form, or "" when nothing
// positive remains.
func FormatVolume(quantity float64) string {
	d := TruncateVolume(quantity)
	if !d.IsPositive() {
		return ""
	}
	return d.String()
}

func (c *Client) public(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	return c.do(req)
}

func (c *Client) private(ctx context.Context, path string, form url.Values) (gjson.Result, error) {
	if c.apiKey == "" || len(c.secret) == 0 {
		return gjson.Result{}, fmt.Errorf("api key and secret are required: %w", exchange.ErrAuth)
	}
	nonce := c.nextNonce()
	form.Set("nonce", nonce)
	body := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", Sign(c.secret, path, nonce, body))
	return c.do(req)
}

func (c *Client) do(req *http.Request) (gjson.Result, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return gjson.Result{}, ctxErr
		}
		return gjson.Result{}, fmt.Errorf("%v: %w", err, exchange.ErrTransient)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read body: %v: %w", err, exchange.ErrTransient)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return gjson.Result{}, fmt.Errorf("http %d: %w", resp.StatusCode, exchange.ErrTransient)
	}
	if !gjson.ValidBytes(data) {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return gjson.Result{}, fmt.Errorf("http %d: invalid json: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}
	parsed := gjson.ParseBytes(data)
	var messages []string
	for _, e := range parsed.Get("error").Array() {
		if s := strings.TrimSpace(e.String()); s != "" {
			messages = append(messages, s)
		}
	}
	if len(messages) > 0 {
		c.log.Debug("kraken api error", zap.String("path", req.URL.Path), zap.Strings("errors", messages))
		return gjson.Result{}, classify(messages)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("http %d", resp.StatusCode)
	}
	result := parsed.Get("result")
	if !result.Exists() || (result.IsObject() && len(result.Map()) == 0) {
		return gjson.Result{}, exchange.ErrNoData
	}
	return result, nil
}

func classify(messages []string) error {
	joined := strings.Join(messages, "; ")
	for _, msg := range messages {
		switch {
		case strings.HasPrefix(msg, "EAPI:Invalid key"),
			strings.HasPrefix(msg, "EAPI:Invalid signature"),
			strings.HasPrefix(msg, "EAPI:Invalid nonce"),
			strings.HasPrefix(msg, "EGeneral:Permission denied"):
			return fmt.Errorf("%s: %w", joined, exchange.ErrAuth)
		case strings.HasPrefix(msg, "EAPI:Rate limit exceeded"),
			strings.HasPrefix(msg, "EOrder:Rate limit exceeded"),
			strings.HasPrefix(msg, "EService:"),
			strings.HasPrefix(msg, "EGeneral:Temporary lockout"):
			return fmt.Errorf("%s: %w", joined, exchange.ErrTransient)
		case strings.HasPrefix(msg, "EOrder:"):
			return fmt.Errorf("%s: %w", joined, exchange.ErrRejected)
		case strings.HasPrefix(msg, "EQuery:Unknown asset pair"):
			return fmt.Errorf("%s: %w", joined, exchange.ErrNoData)
		}
	}
	return errors.New(joined)
}

// Sign computes API-Sign: HMAC-SHA512 over path + SHA256(nonce + body)
// keyed by the decoded secret, base64 encoded.
func Sign(secret []byte, path, nonce, body string) string {
	digest := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(digest[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) nextNonce() string {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	nonce := c.now().UnixMilli()
	if nonce <= c.lastNonce {
		nonce = c.lastNonce + 1
	}
	c.lastNonce = nonce
	return strconv.FormatInt(nonce, 10)
}

// firstPairValue returns the first result member that is not the "last"
// cursor; Kraken keys results by its own pair alias.
func firstPairValue(result gjson.Result) gjson.Result {
	var out gjson.Result
	result.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "last" {
			return true
		}
		out = value
		return false
	})
	return out
}
