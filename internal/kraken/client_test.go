package kraken

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"meme-surge-bot/internal/exchange"

	"go.uber.org/zap"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("kraken-test-secret"))

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Config{
		BaseURL:   server.URL,
		Timeout:   time.Second,
		APIKey:    "key",
		APISecret: testSecret,
		Pairs:     map[string]string{"DOGEUSD": "XDGUSD"},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestTickerParsesLastTrade(t *testing.T) {
	var gotPair string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPair = r.URL.Query().Get("pair")
		_, _ = w.Write([]byte(`{"error":[],"result":{"XDGUSD":{"a":["0.1502","1","1.000"],"b":["0.1500","1","1.000"],"c":["0.1501","250.0"]}}}`))
	})
	tick, err := client.Ticker(context.Background(), "DOGEUSD")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if gotPair != "XDGUSD" {
		t.Fatalf("expected mapped pair XDGUSD, got %s", gotPair)
	}
	if tick.Last != 0.1501 || tick.Bid != 0.15 || tick.Ask != 0.1502 {
		t.Fatalf("unexpected ticker: %#v", tick)
	}
}

func TestHistoryParsesMixedRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "60" {
			t.Errorf("expected interval 60, got %s", r.URL.Query().Get("interval"))
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"SOLUSD":[
			[1700000000,"150.1","151.0","149.5","150.5","150.2","12.5",40],
			[1700003600,"150.5","152.0","150.0","151.7","151.1","8.25",31]
		],"last":1700003600}}`))
	})
	bars, err := client.History(context.Background(), "SOLUSD", 60)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[1].Close != 151.7 || bars[1].Volume != 8.25 {
		t.Fatalf("unexpected bar: %#v", bars[1])
	}
	if !bars[0].Time.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected bar time %v", bars[0].Time)
	}
}

func TestHistoryEmptyIsNoData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":[],"result":{"SOLUSD":[],"last":0}}`))
	})
	if _, err := client.History(context.Background(), "SOLUSD", 60); !errors.Is(err, exchange.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestBalanceSignsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		secret, _ := base64.StdEncoding.DecodeString(testSecret)
		want := Sign(secret, balancePath, form.Get("nonce"), string(body))
		if r.Header.Get("API-Key") != "key" {
			t.Errorf("missing API-Key header")
		}
		if r.Header.Get("API-Sign") != want {
			t.Errorf("signature mismatch: got %s want %s", r.Header.Get("API-Sign"), want)
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"ZUSD":"40.0000","ZCAD":"70.0000","XXDG":"125.5"}}`))
	})
	balances, err := client.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balances["ZUSD"] != 40 || balances["ZCAD"] != 70 || balances["XXDG"] != 125.5 {
		t.Fatalf("unexpected balances: %v", balances)
	}
}

func TestPlaceMarketOrderForm(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"error":[],"result":{"descr":{"order":"buy 50.00000000 XDGUSD @ market"},"txid":["OABC12-DEF34-GHI56"]}}`))
	})
	conf, err := client.PlaceMarketOrder(context.Background(), exchange.OrderRequest{
		Asset:         "DOGEUSD",
		Side:          exchange.SideBuy,
		Quantity:      50,
		ClientOrderID: "cid-1",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(conf.OrderIDs) != 1 || conf.OrderIDs[0] != "OABC12-DEF34-GHI56" {
		t.Fatalf("unexpected confirmation: %#v", conf)
	}
	if form.Get("ordertype") != "market" || form.Get("type") != "buy" || form.Get("pair") != "XDGUSD" {
		t.Fatalf("unexpected order form: %v", form)
	}
	if form.Get("volume") != "50" || form.Get("cl_ord_id") != "cid-1" {
		t.Fatalf("unexpected volume or client id: %v", form)
	}
	if conf.Volume != 50 {
		t.Fatalf("expected confirmed volume 50, got %v", conf.Volume)
	}
}

func TestPlaceMarketOrderReportsTruncatedVolume(t *testing.T) {
	var form url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		_, _ = w.Write([]byte(`{"error":[],"result":{"descr":{"order":"buy SOLUSD"},"txid":["OT1"]}}`))
	})
	conf, err := client.PlaceMarketOrder(context.Background(), exchange.OrderRequest{
		Asset:    "SOLUSD",
		Side:     exchange.SideBuy,
		Quantity: 0.123456789,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if form.Get("volume") != "0.12345678" || conf.Volume != 0.12345678 {
		t.Fatalf("expected submitted and confirmed volume 0.12345678, got form %q conf %v", form.Get("volume"), conf.Volume)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := map[string]error{
		`{"error":["EAPI:Invalid key"]}`:           exchange.ErrAuth,
		`{"error":["EGeneral:Permission denied"]}`: exchange.ErrAuth,
		`{"error":["EAPI:Rate limit exceeded"]}`:   exchange.ErrTransient,
		`{"error":["EService:Unavailable"]}`:       exchange.ErrTransient,
		`{"error":["EOrder:Insufficient funds"]}`:  exchange.ErrRejected,
		`{"error":["EQuery:Unknown asset pair"]}`:  exchange.ErrNoData,
		`{"error":[],"result":{}}`:                 exchange.ErrNoData,
	}
	for body, want := range cases {
		body := body
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := client.PlaceMarketOrder(context.Background(), exchange.OrderRequest{Asset: "SOLUSD", Side: exchange.SideSell, Quantity: 1})
		if !errors.Is(err, want) {
			t.Fatalf("body %s: expected %v, got %v", body, want, err)
		}
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := client.Ticker(context.Background(), "SOLUSD"); !errors.Is(err, exchange.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Balance(context.Background()); !errors.Is(err, exchange.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestFormatVolumeTruncates(t *testing.T) {
	if got := FormatVolume(0.123456789); got != "0.12345678" {
		t.Fatalf("expected truncated volume, got %s", got)
	}
	if got := FormatVolume(500000); got != "500000" {
		t.Fatalf("expected integer volume, got %s", got)
	}
	if got := FormatVolume(0); got != "" {
		t.Fatalf("expected empty volume for zero, got %s", got)
	}
}

func TestNonceStrictlyIncreases(t *testing.T) {
	client, err := New(Config{BaseURL: "http://localhost"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	fixed := time.UnixMilli(1700000000000)
	client.now = func() time.Time { return fixed }
	first := client.nextNonce()
	second := client.nextNonce()
	if first != "1700000000000" || second != "1700000000001" {
		t.Fatalf("unexpected nonces %s %s", first, second)
	}
}
