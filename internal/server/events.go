package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/ssd-technologies/screendawg/internal/storage"
)

// Event types pushed to the admin dashboard.
const (
	EventUpload = "upload"
	EventDelete = "delete"
	EventView   = "view"
)

const (
	subscriberBuffer = 32
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
)

// Event is one entry of the admin live feed.
type Event struct {
	Type    string    `json:"type"`
	ShortID string    `json:"short_id"`
	OwnerID string    `json:"owner_id"`
	At      time.Time `json:"at"`
}

func newEvent(typ string, u *storage.Upload) Event {
	return Event{Type: typ, ShortID: u.ShortID, OwnerID: u.OwnerID, At: time.Now().UTC()}
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block the request that produced them.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. Call the returned func to leave.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// The default origin check (same host) applies: only the dashboard page
// itself may open the feed.
var upgrader = websocket.Upgrader{}

// handleEvents handles GET /admin/events: the dashboard's live feed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.adminFrom(r); !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	events, leave := s.hub.Subscribe()
	defer leave()

	// The feed is one-way; reading only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
