// Package broadcast pushes task events to websocket subscribers. Clients
// subscribe to one entity ("submission:7") and receive every event the
// pipeline publishes for it.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ahrav/go-grader/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBufferSize = 16
)

// ErrHubClosed is returned by Broadcast after Close.
var ErrHubClosed = errors.New("broadcast hub closed")

// Message is the JSON frame sent to subscribers.
type Message struct {
	Entity    string    `json:"entity"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	entity string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub tracks subscribers by entity.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub returns an empty hub. checkOrigin may be nil to use the
// same-origin default.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: slog.Default().With("component", "broadcast"),
	}
}

// Broadcast implements the pipeline's Broadcaster. Subscribers whose buffer
// is full are dropped rather than blocking the caller.
func (h *Hub) Broadcast(_ context.Context, entity *domain.EntityRef, event string, data any) error {
	key := entity.String()
	frame, err := json.Marshal(Message{Entity: key, Event: event, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	var slow []*subscriber
	for s := range h.subs[key] {
		select {
		case s.send <- frame:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("dropping slow subscriber", "entity", key)
		h.remove(s)
	}
	return nil
}

// Subscribers reports how many connections follow entity.
func (h *Hub) Subscribers(entity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[entity])
}

// ServeWS upgrades the request and subscribes it to the "entity" query
// parameter, which must be a "type:id" reference.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ref, err := domain.ParseEntityRef(r.URL.Query().Get("entity"))
	if err != nil || ref == nil {
		http.Error(w, "entity must be a type:id reference", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{entity: ref.String(), conn: conn, send: make(chan []byte, sendBufferSize)}
	if !h.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go h.writePump(s)
	go h.readPump(s)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, set := range h.subs {
		for s := range set {
			s.close()
		}
		delete(h.subs, key)
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.subs[s.entity]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[s.entity] = set
	}
	set[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.entity]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.entity)
		}
	}
	s.close()
}

// readPump discards client frames and tracks liveness through pongs.
func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
