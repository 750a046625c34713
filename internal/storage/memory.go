package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation with the same transaction
// semantics as the Postgres store: per-game serialization, all-or-nothing
// visibility of a mutating sequence. It backs the test suites and can run the
// server without a database.
type MemoryStore struct {
	mu    sync.Mutex
	games map[string]*memGame
}

type memGame struct {
	mu        sync.Mutex
	game      Game
	fields    map[string]ScoreField
	scores    map[string]Score
	countries map[string]int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]*memGame)}
}

func (s *MemoryStore) get(name string) (*memGame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[name]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g, nil
}

// CreateGame registers a game and its reserved fields
func (s *MemoryStore) CreateGame(ctx context.Context, g *Game, scoreType string) error {
	if g.RankingEnabled {
		if g.ScoreOrder == OrderAsc {
			return errors.New("ranking requires descending score order")
		}
		if g.TotalScores != 0 {
			return errors.New("ranking can only be enabled on a game with no scores")
		}
	}
	if g.ScoreOrder == "" {
		g.ScoreOrder = OrderDesc
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[g.Name]; ok {
		return ErrGameExists
	}
	mg := &memGame{
		game:      *g,
		fields:    make(map[string]ScoreField),
		scores:    make(map[string]Score),
		countries: make(map[string]int64),
	}
	for _, f := range DefaultFields(g.Name, scoreType) {
		mg.fields[f.Name] = f
	}
	s.games[g.Name] = mg
	return nil
}

// CreateField declares a submission field for a game
func (s *MemoryStore) CreateField(ctx context.Context, f *ScoreField) error {
	g, err := s.get(f.Game)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fields[f.Name] = *f
	return nil
}

// GetGame loads a game by name
func (s *MemoryStore) GetGame(ctx context.Context, name string) (*Game, error) {
	g, err := s.get(name)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := g.game
	return &cp, nil
}

// ListFields returns a game's declared fields
func (s *MemoryStore) ListFields(ctx context.Context, game string) ([]ScoreField, error) {
	g, err := s.get(game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ScoreField, 0, len(g.fields))
	for _, f := range g.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindScore looks up the score stored for one update-mode identity
func (s *MemoryStore) FindScore(ctx context.Context, game, category, playerName, deviceID string) (*Score, error) {
	g, err := s.get(game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sc := range g.scores {
		if sc.Category == category && sc.PlayerName == playerName && sc.DeviceID == deviceID {
			cp := sc
			return &cp, nil
		}
	}
	return nil, ErrScoreNotFound
}

// GetScore loads one score row by ID
func (s *MemoryStore) GetScore(ctx context.Context, game, id string) (*Score, error) {
	g, err := s.get(game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, ok := g.scores[id]
	if !ok {
		return nil, ErrScoreNotFound
	}
	cp := sc
	return &cp, nil
}

// ListScores returns a page of scores ordered by the score value
func (s *MemoryStore) ListScores(ctx context.Context, q ScoreQuery) ([]Score, error) {
	g, err := s.get(q.Game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	var matched []Score
	for _, sc := range g.scores {
		if sc.Category != q.Category {
			continue
		}
		if q.Country != "" && sc.Country != q.Country {
			continue
		}
		if q.DeviceID != "" && sc.DeviceID != q.DeviceID {
			continue
		}
		if !q.Since.IsZero() && !sc.CreatedAt.After(q.Since) {
			continue
		}
		matched = append(matched, sc)
	}
	g.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Value != matched[j].Value {
			if q.Descending {
				return matched[i].Value > matched[j].Value
			}
			return matched[i].Value < matched[j].Value
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// BestScores returns the best stored score per identity for one (game, category)
func (s *MemoryStore) BestScores(ctx context.Context, game, category string) ([]IdentityScore, error) {
	g, err := s.get(game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	best := make(map[string]IdentityScore)
	for _, sc := range g.scores {
		if sc.Category != category {
			continue
		}
		key := sc.Identity()
		if cur, ok := best[key]; !ok || sc.Value > cur.Value {
			best[key] = IdentityScore{PlayerName: sc.PlayerName, DeviceID: sc.DeviceID, Value: sc.Value}
		}
	}
	out := make([]IdentityScore, 0, len(best))
	for _, is := range best {
		out = append(out, is)
	}
	return out, nil
}

// CountryCounts returns the per-country aggregates for a game
func (s *MemoryStore) CountryCounts(ctx context.Context, game string) ([]CountryCount, error) {
	g, err := s.get(game)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CountryCount, 0, len(g.countries))
	for country, qty := range g.countries {
		out = append(out, CountryCount{Game: game, Country: country, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })
	return out, nil
}

// WithGameTx serializes fn against other writers of the same game and applies
// its mutations all-or-nothing: fn runs against a copy that replaces the live
// state only on success.
func (s *MemoryStore) WithGameTx(ctx context.Context, game string, fn func(tx Tx) error) error {
	g, err := s.get(game)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &memTx{
		game:      g.game,
		scores:    make(map[string]Score, len(g.scores)),
		countries: make(map[string]int64, len(g.countries)),
	}
	for id, sc := range g.scores {
		tx.scores[id] = sc
	}
	for c, q := range g.countries {
		tx.countries[c] = q
	}

	if err := fn(tx); err != nil {
		return err
	}

	g.game = tx.game
	g.scores = tx.scores
	g.countries = tx.countries
	return nil
}

type memTx struct {
	game      Game
	scores    map[string]Score
	countries map[string]int64
}

func (t *memTx) FindScore(ctx context.Context, category, playerName, deviceID string) (*Score, error) {
	for _, sc := range t.scores {
		if sc.Category == category && sc.PlayerName == playerName && sc.DeviceID == deviceID {
			cp := sc
			return &cp, nil
		}
	}
	return nil, ErrScoreNotFound
}

func (t *memTx) PutScore(ctx context.Context, sc *Score) error {
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	sc.Game = t.game.Name
	t.scores[sc.ID] = *sc
	return nil
}

func (t *memTx) DeleteScore(ctx context.Context, id string) (*Score, error) {
	sc, ok := t.scores[id]
	if !ok {
		return nil, ErrScoreNotFound
	}
	delete(t.scores, id)
	cp := sc
	return &cp, nil
}

func (t *memTx) IncrementGameTotal(ctx context.Context, delta int64) error {
	t.game.TotalScores += delta
	if t.game.TotalScores < 0 {
		t.game.TotalScores = 0
	}
	return nil
}

func (t *memTx) IncrementCountryTotal(ctx context.Context, country string, delta int64) error {
	q := t.countries[country] + delta
	if q < 0 {
		q = 0
	}
	t.countries[country] = q
	return nil
}

func (t *memTx) ResetGame(ctx context.Context) error {
	t.scores = make(map[string]Score)
	t.countries = make(map[string]int64)
	t.game.TotalScores = 0
	return nil
}
