package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meme-surge-bot/internal/portfolio"
)

const StatusSnapshotKey = "status:last_snapshot"

// StatusSnapshot is the externally visible state written once per cycle.
type StatusSnapshot struct {
	BotName        string                   `json:"bot_name"`
	Status         string                   `json:"status"`
	PortfolioValue float64                  `json:"portfolio_value"`
	LastTrade      *portfolio.TradeLogEntry `json:"last_trade"`
	Positions      map[string]float64       `json:"positions"`
	Cash           float64                  `json:"cash"`
	InitialValue   float64                  `json:"initial_value"`
	Degraded       bool                     `json:"degraded"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func LoadStatusSnapshot(ctx context.Context, store Store) (StatusSnapshot, bool, error) {
	if store == nil {
		return StatusSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, StatusSnapshotKey)
	if err != nil {
		return StatusSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return StatusSnapshot{}, false, nil
	}
	var snapshot StatusSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return StatusSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveStatusSnapshot(ctx context.Context, store Store, snapshot StatusSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, StatusSnapshotKey, string(payload))
}

// WriteStatusFile replaces path atomically so readers never see a partial
// document.
func WriteStatusFile(path string, snapshot StatusSnapshot) error {
	if path == "" {
		return nil
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
