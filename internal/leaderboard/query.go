package leaderboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/score-server/internal/ranker"
	"github.com/score-server/internal/storage"
)

// Recency windows, matching the client protocol constants
const (
	QueryIgnore = iota
	QueryDay
	QueryWeek
	QueryMonth
	QueryAllTime
)

// Query flags: restrict a listing to the caller's country or to one device.
// The two are mutually exclusive.
const (
	QueryFlagByCountry = 1 << 0
	QueryFlagByDevice  = 1 << 1
)

// Listing limits
const (
	DefaultLimit    = 25
	MaxLimit        = 100
	MaxRankingLimit = 40
)

// ListRequest selects a page of a game's leaderboard
type ListRequest struct {
	GameName   string
	Offset     int
	Limit      int
	Category   string
	QueryType  int
	Flags      int
	DeviceID   string
	RemoteAddr string
}

// ListResult is a page of projected score rows. Each row carries the fields
// declared sendable for the game plus a 1-based "position".
type ListResult struct {
	Scores   []map[string]any `json:"scores"`
	ShowNext bool             `json:"show_next"`
}

// ListScores returns scores ordered by the game's configured direction,
// restricted to one category and optionally to the caller's country or one
// device. Positions come from one batched rank-tree lookup when ranking is
// enabled, from offset arithmetic otherwise.
func (s *Service) ListScores(ctx context.Context, req *ListRequest) (*ListResult, error) {
	g, err := s.game(ctx, req.GameName)
	if err != nil {
		return nil, err
	}

	if req.Offset < 0 {
		return nil, Validationf("offset can't be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return nil, Validationf("limit can't be negative")
	}
	if limit > MaxLimit {
		return nil, Validationf("limit can't be greater than %d", MaxLimit)
	}
	if g.RankingEnabled && limit > MaxRankingLimit {
		return nil, Validationf("limit can't be greater than %d when rankings are enabled", MaxRankingLimit)
	}

	if req.Flags&QueryFlagByCountry != 0 && req.Flags&QueryFlagByDevice != 0 {
		return nil, Validationf("country and device filters are mutually exclusive")
	}

	q := storage.ScoreQuery{
		Game:       g.Name,
		Category:   req.Category,
		Offset:     req.Offset,
		Limit:      limit + 1, // one extra row to detect a next page
		Descending: g.Descending(),
		Since:      sinceCutoff(req.QueryType, time.Now()),
	}
	if req.Flags&QueryFlagByCountry != 0 {
		q.Country = s.country(ctx, req.RemoteAddr)
	}
	if req.Flags&QueryFlagByDevice != 0 {
		if req.DeviceID == "" {
			return nil, Validationf("device parameter is missing")
		}
		q.DeviceID = req.DeviceID
	}

	rows, err := s.store.ListScores(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing scores for game %s: %w", g.Name, err)
	}
	showNext := len(rows) > limit
	if showNext {
		rows = rows[:limit]
	}

	fields, err := s.store.ListFields(ctx, g.Name)
	if err != nil {
		return nil, fmt.Errorf("loading fields for game %s: %w", g.Name, err)
	}
	var sendFields []storage.ScoreField
	for _, f := range fields {
		if f.Send {
			sendFields = append(sendFields, f)
		}
	}

	out := make([]map[string]any, 0, len(rows))
	for i, sc := range rows {
		row := make(map[string]any, len(sendFields)+1)
		for _, f := range sendFields {
			row[f.Name] = fieldValue(&sc, f.Name)
		}
		row["position"] = req.Offset + i + 1
		out = append(out, row)
	}

	if g.RankingEnabled && len(rows) > 0 {
		r, err := s.tree(ctx, g, req.Category)
		if err != nil {
			return nil, fmt.Errorf("loading rank tree for game %s: %w", g.Name, err)
		}
		values := make([]int64, len(rows))
		for i, sc := range rows {
			values[i] = int64(sc.Value)
		}
		ranks, err := r.FindRanks(values)
		if err != nil {
			return nil, Validationf("stored score outside ranking bounds of game %s", g.Name)
		}
		for i, rank := range ranks {
			out[i]["position"] = rank + 1
		}
	}

	return &ListResult{Scores: out, ShowNext: showNext}, nil
}

// RankForScore returns the 1-based rank a score would hold in a category
func (s *Service) RankForScore(ctx context.Context, gameName, category string, score int64) (int64, error) {
	r, err := s.rankingTree(ctx, gameName, category)
	if err != nil {
		return 0, err
	}
	rank, err := r.FindRank(score)
	if err != nil {
		return 0, Validationf("score %d outside ranking bounds of game %s", score, gameName)
	}
	return rank + 1, nil
}

// RanksForScores is the batch form of RankForScore; result order matches the
// input order.
func (s *Service) RanksForScores(ctx context.Context, gameName, category string, scores []int64) ([]int64, error) {
	r, err := s.rankingTree(ctx, gameName, category)
	if err != nil {
		return nil, err
	}
	ranks, err := r.FindRanks(scores)
	if err != nil {
		return nil, Validationf("score outside ranking bounds of game %s", gameName)
	}
	for i := range ranks {
		ranks[i]++
	}
	return ranks, nil
}

// ScoreForRank returns the score at a 0-based rank and its tie count
func (s *Service) ScoreForRank(ctx context.Context, gameName, category string, rank int64) (int64, int64, error) {
	r, err := s.rankingTree(ctx, gameName, category)
	if err != nil {
		return 0, 0, err
	}
	score, ties, err := r.FindScore(rank)
	if err != nil {
		return 0, 0, Validationf("rank %d out of range for game %s", rank, gameName)
	}
	return score, ties, nil
}

// rankingTree validates the game and its ranking capability, then returns
// the category's tree.
func (s *Service) rankingTree(ctx context.Context, gameName, category string) (*ranker.Ranker, error) {
	g, err := s.game(ctx, gameName)
	if err != nil {
		return nil, err
	}
	if !g.RankingEnabled {
		return nil, Capabilityf("game %s does not support ranking", g.Name)
	}
	return s.tree(ctx, g, category)
}

// sinceCutoff maps a query type to a created_at cutoff; zero means all time
func sinceCutoff(queryType int, now time.Time) time.Time {
	switch queryType {
	case QueryDay:
		return now.AddDate(0, 0, -1)
	case QueryWeek:
		return now.AddDate(0, 0, -7)
	case QueryMonth:
		return now.AddDate(0, 0, -30)
	default:
		return time.Time{}
	}
}

// fieldValue projects one sendable field out of a score row
func fieldValue(sc *storage.Score, name string) any {
	switch name {
	case "cc_score":
		return sc.Value
	case "cc_playername":
		return sc.PlayerName
	case "cc_country":
		return sc.Country
	case "cc_device_id":
		return sc.DeviceID
	case "cc_category":
		return sc.Category
	case "cc_ip":
		return sc.IP
	case "cc_game":
		return sc.Game
	case "cc_when":
		return sc.CreatedAt.Format(time.RFC3339)
	}
	if strings.HasPrefix(name, UserFieldPrefix) {
		if v, ok := sc.Fields[name]; ok {
			return v
		}
	}
	return ""
}
