package live

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-server/internal/leaderboard"
)

func newTestClient(h *Hub, game string, buffer int) *Client {
	return &Client{hub: h, game: game, send: make(chan []byte, buffer)}
}

func recv(t *testing.T, c *Client) ([]byte, bool) {
	t.Helper()
	select {
	case data, ok := <-c.send:
		return data, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil, false
	}
}

func TestHubBroadcastsToGameSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := newTestClient(h, "space-war", 4)
	other := newTestClient(h, "asteroids", 4)
	h.register <- sub
	h.register <- other

	h.ScoreAccepted(leaderboard.AcceptedScore{
		Game:       "space-war",
		Category:   "easy",
		PlayerName: "alice",
		Value:      500,
		New:        true,
	})

	data, ok := recv(t, sub)
	require.True(t, ok)
	var ev leaderboard.AcceptedScore
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "alice", ev.PlayerName)
	assert.Equal(t, 500.0, ev.Value)

	// The other game's subscriber sees nothing.
	select {
	case <-other.send:
		t.Fatal("event delivered to a subscriber of another game")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := newTestClient(h, "space-war", 4)
	h.register <- sub
	h.unregister <- sub

	_, ok := recv(t, sub)
	assert.False(t, ok)

	// Unregistering again is a no-op, not a double close.
	h.unregister <- sub
	h.ScoreAccepted(leaderboard.AcceptedScore{Game: "space-war"})
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub()
	go h.Run()

	slow := newTestClient(h, "space-war", 1)
	h.register <- slow

	// The second event finds the buffer full and evicts the client.
	h.ScoreAccepted(leaderboard.AcceptedScore{Game: "space-war", Value: 1})
	h.ScoreAccepted(leaderboard.AcceptedScore{Game: "space-war", Value: 2})

	data, ok := recv(t, slow)
	require.True(t, ok)
	var ev leaderboard.AcceptedScore
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, 1.0, ev.Value)

	_, ok = recv(t, slow)
	assert.False(t, ok)
}

func TestHubConcurrentSubscribeAndBroadcast(t *testing.T) {
	h := NewHub()
	go h.Run()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.register <- newTestClient(h, "space-war", 1)
		}
	}()
	for i := 0; i < 200; i++ {
		h.ScoreAccepted(leaderboard.AcceptedScore{Game: "space-war", Value: float64(i)})
	}
	<-done
}
