package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/score-server/internal/leaderboard"
	"github.com/score-server/internal/storage"
)

// Handlers holds API handler dependencies
type Handlers struct {
	service *leaderboard.Service
	store   GameLookup
}

// NewHandlers creates a new API handlers instance
func NewHandlers(service *leaderboard.Service, store GameLookup) *Handlers {
	return &Handlers{
		service: service,
		store:   store,
	}
}

// RegisterRoutes registers API routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/post-score", h.PostScore)
	r.Post("/update-score", h.UpdateScore)
	r.Get("/get-scores", h.GetScores)
	r.Get("/get-rank-for-score", h.GetRankForScore)
	r.Get("/get-ranks-for-scores", h.GetRanksForScores)
	r.Get("/get-score-for-rank", h.GetScoreForRank)

	r.Group(func(r chi.Router) {
		r.Use(RequireGameKey(h.store))
		r.Delete("/scores", h.ResetScores)
		r.Delete("/scores/{id}", h.DeleteScore)
	})
}

// PostScore records a new score row in append-only mode
func (h *Handlers) PostScore(w http.ResponseWriter, r *http.Request) {
	sub, err := submission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.PostScore(r.Context(), sub); err != nil {
		respondError(w, err)
		return
	}

	respondText(w, "OK")
}

// UpdateScore records a score in upsert-if-better mode
func (h *Handlers) UpdateScore(w http.ResponseWriter, r *http.Request) {
	sub, err := submission(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.service.UpdateScore(r.Context(), sub)
	if err != nil {
		respondError(w, err)
		return
	}

	if res.RankingEnabled {
		updated := 0
		if res.Updated {
			updated = 1
		}
		respondText(w, fmt.Sprintf("OK:ranking=%d,score_updated=%d", res.Rank, updated))
		return
	}
	respondText(w, "OK")
}

// GetScores returns a page of scores for one game and category
func (h *Handlers) GetScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &leaderboard.ListRequest{
		GameName:   q.Get("gamename"),
		Offset:     intParam(q.Get("offset"), 0),
		Limit:      intParam(q.Get("limit"), leaderboard.DefaultLimit),
		Category:   q.Get("category"),
		QueryType:  intParam(q.Get("querytype"), leaderboard.QueryAllTime),
		Flags:      intParam(q.Get("flags"), 0),
		DeviceID:   q.Get("device"),
		RemoteAddr: r.RemoteAddr,
	}

	res, err := h.service.ListScores(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, res)
}

// GetRankForScore returns the 1-based rank a score value would hold
func (h *Handlers) GetRankForScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	score, err := strconv.ParseInt(q.Get("score"), 10, 64)
	if err != nil {
		http.Error(w, "variable score is not a valid integer", http.StatusBadRequest)
		return
	}

	rank, err := h.service.RankForScore(r.Context(), q.Get("gamename"), q.Get("category"), score)
	if err != nil {
		respondError(w, err)
		return
	}

	respondText(w, fmt.Sprintf("OK: %d", rank))
}

// GetRanksForScores returns the 1-based ranks for a comma-separated list of
// score values, in submission order.
func (h *Handlers) GetRanksForScores(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("scores")
	if raw == "" {
		http.Error(w, "variable scores not found", http.StatusBadRequest)
		return
	}

	parts := strings.Split(raw, ",")
	scores := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			http.Error(w, "variable scores is not a valid integer list", http.StatusBadRequest)
			return
		}
		scores = append(scores, v)
	}

	ranks, err := h.service.RanksForScores(r.Context(), q.Get("gamename"), q.Get("category"), scores)
	if err != nil {
		respondError(w, err)
		return
	}

	out := make([]string, len(ranks))
	for i, rk := range ranks {
		out[i] = strconv.FormatInt(rk, 10)
	}
	respondText(w, fmt.Sprintf("OK: [%s]", strings.Join(out, ", ")))
}

// GetScoreForRank returns the score holding a 0-based rank plus how many
// entries share it.
func (h *Handlers) GetScoreForRank(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rank, err := strconv.ParseInt(q.Get("rank"), 10, 64)
	if err != nil {
		http.Error(w, "variable rank is not a valid integer", http.StatusBadRequest)
		return
	}

	score, ties, err := h.service.ScoreForRank(r.Context(), q.Get("gamename"), q.Get("category"), rank)
	if err != nil {
		respondError(w, err)
		return
	}

	respondText(w, fmt.Sprintf("OK: %d %d", score, ties))
}

// ResetScores deletes every score for a game and resets its aggregates
func (h *Handlers) ResetScores(w http.ResponseWriter, r *http.Request) {
	game := r.URL.Query().Get("gamename")
	if err := h.service.ResetScores(r.Context(), game); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, map[string]string{"message": "Scores cleared successfully"})
}

// DeleteScore removes a single score by id
func (h *Handlers) DeleteScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	game := r.URL.Query().Get("gamename")
	if err := h.service.DeleteScore(r.Context(), game, id); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, map[string]string{"message": "Score deleted successfully"})
}

// submission builds a service submission from the request form, carrying only
// the parameters the client actually sent.
func submission(r *http.Request) (*leaderboard.Submission, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form data")
	}

	game := r.Form.Get("cc_gamename")
	params := make(map[string]string, len(r.Form))
	for name := range r.Form {
		if name == "cc_gamename" {
			continue
		}
		params[name] = r.Form.Get(name)
	}

	return &leaderboard.Submission{
		GameName:   game,
		RemoteAddr: r.RemoteAddr,
		Params:     params,
	}, nil
}

// intParam parses an integer query parameter, falling back to a default
func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// respondError maps service errors onto HTTP status codes. Client mistakes
// come back as 400 with the service message, everything else is a 500.
func respondError(w http.ResponseWriter, err error) {
	var (
		validation *leaderboard.ValidationError
		auth       *leaderboard.AuthenticationError
		cast       *leaderboard.TypeCastError
		capability *leaderboard.CapabilityError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &auth),
		errors.As(err, &cast), errors.As(err, &capability):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrScoreNotFound):
		http.Error(w, "score not found", http.StatusNotFound)
	default:
		slog.Error("request failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// respondText writes a plain text response
func respondText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(body))
}
