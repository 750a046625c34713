package leaderboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/score-server/internal/ranker"
	"github.com/score-server/internal/storage"
)

// Store is the persistence surface the leaderboard services need. It is
// implemented by storage.PostgresStore and storage.MemoryStore.
type Store interface {
	GetGame(ctx context.Context, name string) (*storage.Game, error)
	ListFields(ctx context.Context, game string) ([]storage.ScoreField, error)
	ListScores(ctx context.Context, q storage.ScoreQuery) ([]storage.Score, error)
	BestScores(ctx context.Context, game, category string) ([]storage.IdentityScore, error)
	WithGameTx(ctx context.Context, game string, fn func(tx storage.Tx) error) error
}

// CountryResolver maps a client address to a 2-letter country code. It never
// fails: degraded lookups return the sentinel code.
type CountryResolver interface {
	Country(ctx context.Context, addr string) string
}

// AcceptedScore is published after a submission has been durably recorded
type AcceptedScore struct {
	Game       string    `json:"game"`
	Category   string    `json:"category"`
	PlayerName string    `json:"playername"`
	DeviceID   string    `json:"deviceId"`
	Country    string    `json:"country"`
	Value      float64   `json:"score"`
	New        bool      `json:"new"`
	When       time.Time `json:"when"`
}

// Publisher receives accepted-score notifications (Kafka events, live feed).
// Publishers run after the write committed and must not fail ingestion.
type Publisher interface {
	ScoreAccepted(ev AcceptedScore)
}

// Service orchestrates validation, casting, aggregate updates and rank-tree
// updates for score ingestion and answers rank and list queries.
type Service struct {
	store Store
	geo   CountryResolver
	trees *ranker.Registry
	pubs  []Publisher
	log   *slog.Logger
}

// NewService wires a leaderboard service
func NewService(store Store, geo CountryResolver, trees *ranker.Registry, log *slog.Logger, pubs ...Publisher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, geo: geo, trees: trees, pubs: pubs, log: log}
}

// game resolves the validated game for a request
func (s *Service) game(ctx context.Context, name string) (*storage.Game, error) {
	if name == "" {
		return nil, Validationf("variable gamename not found")
	}
	g, err := s.store.GetGame(ctx, name)
	if err != nil {
		return nil, Validationf("game not found %s", name)
	}
	return g, nil
}

// country resolves a submission address, degrading to the sentinel code
func (s *Service) country(ctx context.Context, addr string) string {
	if s.geo == nil {
		return "xx"
	}
	return s.geo.Country(ctx, addr)
}

// tree returns the rank tree for (game, category), creating it with the
// game's configured bounds and warming it from the stored best scores on
// first use. Stored rows outside the configured bounds are skipped.
func (s *Service) tree(ctx context.Context, g *storage.Game, category string) (*ranker.Ranker, error) {
	cfg := ranker.Config{
		MinScore:     g.RankingMinScore,
		MaxScore:     g.RankingMaxScore,
		BranchFactor: g.RankingBranchFactor,
	}
	return s.trees.GetOrCreate(g.Name, category, cfg, func(r *ranker.Ranker) error {
		best, err := s.store.BestScores(ctx, g.Name, category)
		if err != nil {
			return err
		}
		for _, is := range best {
			v := int64(is.Value)
			if err := r.SetScore(is.PlayerName+"@"+is.DeviceID, &v); err != nil {
				s.log.Warn("skipping out-of-range score while warming rank tree",
					slog.String("game", g.Name),
					slog.String("category", category),
					slog.Int64("score", v))
			}
		}
		return nil
	})
}

func (s *Service) publish(ev AcceptedScore) {
	for _, p := range s.pubs {
		p.ScoreAccepted(ev)
	}
}
