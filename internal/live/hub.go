// Package live streams accepted scores to websocket subscribers. Each client
// subscribes to one game and receives every score the engine records for it.
package live

import (
	"encoding/json"
	"log/slog"

	"github.com/score-server/internal/leaderboard"
)

// event is one marshaled score pending fan-out to a game's subscribers
type event struct {
	game    string
	payload []byte
}

// Hub maintains the set of subscribed clients per game and fans accepted
// scores out to them.
type Hub struct {
	// Subscribers by game name; owned by Run, never touched elsewhere
	games map[string]map[*Client]bool

	// Accepted scores pending fan-out
	broadcast chan event

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		games:      make(map[string]map[*Client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop. Registration, teardown and fan-out all run
// here, so a broadcast never races a subscription change.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			if h.games[client.game] == nil {
				h.games[client.game] = make(map[*Client]bool)
			}
			h.games[client.game][client] = true
			slog.Debug("live client subscribed", slog.String("game", client.game))

		case client := <-h.unregister:
			h.drop(client)
			slog.Debug("live client unsubscribed", slog.String("game", client.game))

		case ev := <-h.broadcast:
			for client := range h.games[ev.game] {
				select {
				case client.send <- ev.payload:
				default:
					// Slow consumer; cut it loose rather than stall the feed.
					h.drop(client)
				}
			}
		}
	}
}

// drop removes a client and closes its channel, once
func (h *Hub) drop(client *Client) {
	if clients, ok := h.games[client.game]; ok && clients[client] {
		delete(clients, client)
		close(client.send)
		if len(clients) == 0 {
			delete(h.games, client.game)
		}
	}
}

// ScoreAccepted implements leaderboard.Publisher: every recorded score is
// broadcast to the game's subscribers. When the feed backlog is full the
// event is dropped rather than blocking ingestion.
func (h *Hub) ScoreAccepted(ev leaderboard.AcceptedScore) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("error marshaling live score event", slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- event{game: ev.Game, payload: data}:
	default:
	}
}
