// Package gateway streams alerts and tick summaries to websocket clients.
// The Hub is a notification.Notifier, so it sits in the same fan-out as
// Telegram and webhooks.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"equity-alerts/internal/model"
	"equity-alerts/internal/notification"
	"equity-alerts/internal/scanner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is one stream frame.
type Envelope struct {
	Type   string       `json:"type"` // alert | notice | tick
	Seq    int64        `json:"seq"`
	TS     time.Time    `json:"ts"`
	Alert  *model.Alert `json:"alert,omitempty"`
	Title  string       `json:"title,omitempty"`
	Body   string       `json:"body,omitempty"`
	Tick   *TickSummary `json:"tick,omitempty"`
	Replay bool         `json:"replay,omitempty"`
}

// TickSummary is the stream view of a scanner tick.
type TickSummary struct {
	Profile string            `json:"profile"`
	Session model.SessionDate `json:"session"`
	Gated   bool              `json:"gated"`
	Alerts  int               `json:"alerts"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Error   string            `json:"error,omitempty"`
}

// Hub fans frames out to connected websocket clients and keeps a replay
// buffer for reconnects.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
	replay  *ReplayBuffer
	gauge   prometheus.Gauge
	now     func() time.Time
}

// NewHub creates a hub that can replay up to replayCap frames. gauge, when
// non-nil, tracks the number of connected clients.
func NewHub(replayCap int, gauge prometheus.Gauge) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		replay:  NewReplayBuffer(replayCap),
		gauge:   gauge,
		now:     time.Now,
	}
}

func (h *Hub) Name() string { return "stream" }

// Send broadcasts each alert of msg as its own frame. Messages without
// alerts, such as digests, go out as a notice.
func (h *Hub) Send(_ context.Context, msg notification.Message) error {
	if len(msg.Alerts) == 0 {
		h.publish(Envelope{Type: "notice", Title: msg.Title, Body: msg.Body})
		return nil
	}
	for i := range msg.Alerts {
		a := msg.Alerts[i]
		h.publish(Envelope{Type: "alert", Alert: &a})
	}
	return nil
}

// PublishTick broadcasts a tick summary. It fits scanner.TickHook.
func (h *Hub) PublishTick(rep *scanner.TickReport, err error) {
	sum := &TickSummary{}
	if rep != nil {
		sum.Profile = rep.Profile
		sum.Session = rep.Session
		sum.Gated = rep.Gated
		sum.Alerts = len(rep.Alerts)
		sum.Skipped = len(rep.Skipped)
		sum.Failed = len(rep.Failed)
	}
	if err != nil {
		sum.Error = err.Error()
	}
	h.publish(Envelope{Type: "tick", Tick: sum})
}

func (h *Hub) publish(env Envelope) {
	h.mu.Lock()
	h.seq++
	env.Seq = h.seq
	env.TS = h.now()
	data, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		slog.Error("gateway: marshal envelope", "type", env.Type, "error", err)
		return
	}
	h.replay.Push(env.Seq, data)
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; it can catch up with ?since on reconnect.
		}
	}
	h.mu.Unlock()
}

// Seq returns the last published sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket. A "since" query parameter
// replays buffered frames with a greater seq before live frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var since int64 = -1
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway: ws upgrade failed", "error", err)
		return
	}
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	// Register and queue the replay under one lock so no live frame can
	// slip in between.
	h.mu.Lock()
	if since >= 0 {
		for _, f := range h.replay.Since(since) {
			select {
			case c.send <- markReplay(f.Data):
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.Set(float64(count))
	}
	slog.Info("gateway: ws client connected", "clients", count, "since", since)

	go c.writePump()
	go c.readPump()
}

// remove unregisters c and closes its send channel.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.Set(float64(count))
	}
	slog.Info("gateway: ws client disconnected", "clients", count)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// markReplay flags a buffered frame as replayed.
func markReplay(data []byte) []byte {
	var env Envelope
	if json.Unmarshal(data, &env) != nil {
		return data
	}
	env.Replay = true
	out, err := json.Marshal(env)
	if err != nil {
		return data
	}
	return out
}
