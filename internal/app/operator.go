package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"meme-surge-bot/internal/alerts"
	"meme-surge-bot/internal/strategy"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	StatusBefore string    `json:"status_before"`
	StatusAfter  string    `json:"status_after"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		a.operatorRecovered()
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp := a.handleOperatorCommand(ctx, cmd, meta)
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

// parseOperatorCommand accepts "/cmd" and "/cmd@botname" forms.
func parseOperatorCommand(text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, cmd != ""
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) string {
	switch cmd {
	case "status":
		return a.operatorStatus()
	case "pause":
		before := a.governor.Status()
		after := a.governor.Pause()
		a.auditOperatorEvent(ctx, "pause", meta, before, after)
		if before == after {
			return fmt.Sprintf("trading not running (status %s)", after)
		}
		a.log.Warn("trading paused by operator", zap.Int64("user_id", meta.UserID))
		a.publishStatus(ctx, a.Portfolio().Value, a.Status().Degraded)
		return "trading paused, restart the bot to resume"
	case "resume":
		status := a.governor.Status()
		a.auditOperatorEvent(ctx, "resume", meta, status, status)
		if status == strategy.StatusRunning {
			return "trading already running"
		}
		return "paused trading cannot be resumed in process, restart the bot"
	default:
		return operatorHelpText()
	}
}

func (a *App) operatorStatus() string {
	snap := a.Status()
	lines := []string{
		fmt.Sprintf("bot: %s", snap.BotName),
		fmt.Sprintf("status: %s", snap.Status),
		fmt.Sprintf("portfolio_value: %.2f (initial %.2f)", snap.PortfolioValue, snap.InitialValue),
		fmt.Sprintf("cash: %.2f", snap.Cash),
		fmt.Sprintf("degraded: %t", snap.Degraded),
	}
	for _, asset := range a.cfg.Symbols() {
		lines = append(lines, fmt.Sprintf("position %s: %.8g", asset, snap.Positions[asset]))
	}
	lastTrade := "n/a"
	if snap.LastTrade != nil {
		lastTrade = fmt.Sprintf("%s %.8g %s @ %.8g at %s",
			snap.LastTrade.Side,
			snap.LastTrade.Quantity,
			snap.LastTrade.Asset,
			snap.LastTrade.Price,
			snap.LastTrade.Timestamp.UTC().Format(time.RFC3339),
		)
	}
	lines = append(lines, "last_trade: "+lastTrade)
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/pause - stop placing orders until restart",
		"/resume - explain how to resume",
		"/help - this message",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	a.mu.Lock()
	warned := a.operatorWarned
	a.operatorWarned = true
	a.mu.Unlock()
	if !warned {
		a.log.Warn("telegram operator failed", zap.Error(err))
	}
}

func (a *App) operatorRecovered() {
	a.mu.Lock()
	warned := a.operatorWarned
	a.operatorWarned = false
	a.mu.Unlock()
	if warned {
		a.log.Info("telegram operator recovered")
	}
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, action string, meta operatorMeta, before, after strategy.Status) {
	if a.store == nil {
		return
	}
	event := operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		StatusBefore: string(before),
		StatusAfter:  string(after),
	}
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
