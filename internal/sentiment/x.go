package sentiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meme-surge-bot/internal/ratelimit"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const recentSearchPath = "/2/tweets/search/recent"

type XConfig struct {
	BaseURL     string
	BearerToken string
	MaxResults  int
	Pacing      time.Duration
	Timeout     time.Duration
	Queries     map[string]string
	Neutral     float64
}

// X scores assets from recent posts on the X search API. A failed search
// yields the neutral score for that asset.
type X struct {
	assets  []string
	cfg     XConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	scorer  *Scorer
	log     *zap.Logger
}

func NewX(assets []string, cfg XConfig, log *zap.Logger) *X {
	return newX(assets, cfg, log, &http.Client{Timeout: cfg.Timeout})
}

func newX(assets []string, cfg XConfig, log *zap.Logger, client *http.Client) *X {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxResults < 10 {
		cfg.MaxResults = 10
	}
	if cfg.MaxResults > 100 {
		cfg.MaxResults = 100
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &X{
		assets:  append([]string(nil), assets...),
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(cfg.Pacing),
		scorer:  NewScorer(),
		log:     log,
	}
}

func (x *X) Scores(ctx context.Context) ([]float64, error) {
	out := make([]float64, len(x.assets))
	for i, asset := range x.assets {
		if err := x.limiter.Throttle(ctx); err != nil {
			return nil, err
		}
		posts, err := x.search(ctx, QueryFor(asset, x.cfg.Queries))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			x.log.Warn("sentiment search failed", zap.String("asset", asset), zap.Error(err))
			out[i] = x.cfg.Neutral
			continue
		}
		out[i] = Normalize(x.scorer.Average(posts))
		x.log.Debug("sentiment scored", zap.String("asset", asset), zap.Int("posts", len(posts)), zap.Float64("score", out[i]))
	}
	return out, nil
}

func (x *X) search(ctx context.Context, query string) ([]string, error) {
	if x.cfg.BearerToken == "" {
		return nil, errors.New("x bearer token is required")
	}
	params := url.Values{}
	params.Set("query", query+" -is:retweet lang:en")
	params.Set("max_results", strconv.Itoa(x.cfg.MaxResults))
	params.Set("tweet.fields", "text,created_at")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.cfg.BaseURL+recentSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+x.cfg.BearerToken)
	resp, err := x.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("x search failed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("x search returned invalid json")
	}
	texts := gjson.GetBytes(body, "data.#.text").Array()
	posts := make([]string, 0, len(texts))
	for _, text := range texts {
		posts = append(posts, text.String())
	}
	return posts, nil
}
