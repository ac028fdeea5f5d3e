package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"meme-surge-bot/internal/state"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	clientBuffer = 8
	writeTimeout = 5 * time.Second
)

// Hub fans status snapshots out to websocket subscribers. A subscriber that
// falls behind is disconnected.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

type subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: make(map[*subscriber]struct{})}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(snapshot state.StatusSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Warn("status stream encode failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		select {
		case sub.send <- payload:
		default:
			delete(h.clients, sub)
			sub.close()
			h.log.Warn("status stream subscriber dropped: too slow")
		}
	}
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		delete(h.clients, sub)
		sub.close()
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, sub)
	sub.close()
}

// ServeHTTP upgrades the request and streams snapshots, starting with
// current, until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, current state.StatusSnapshot) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Debug("status stream upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx := conn.CloseRead(r.Context())
	sub := &subscriber{send: make(chan []byte, clientBuffer), done: make(chan struct{})}
	h.add(sub)
	defer h.remove(sub)

	first, err := json.Marshal(current)
	if err != nil {
		return
	}
	if err := write(ctx, conn, first); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case payload := <-sub.send:
			if err := write(ctx, conn, payload); err != nil {
				h.log.Debug("status stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
