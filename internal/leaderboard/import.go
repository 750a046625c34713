package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/score-server/internal/metrics"
	"github.com/score-server/internal/storage"
)

// ImportRecord is one historical score replayed through the engine, e.g. by
// the bulk-import consumer. Records are trusted and skip checksum validation.
type ImportRecord struct {
	Game       string         `json:"game"`
	Category   string         `json:"category"`
	PlayerName string         `json:"playername"`
	DeviceID   string         `json:"device_id"`
	IP         string         `json:"ip"`
	Value      float64        `json:"score"`
	Fields     map[string]any `json:"fields"`
	When       time.Time      `json:"when"`
}

// ImportScore records a historical score through the same transactional
// counter path as live ingestion: one new row, both aggregates bumped
// exactly once.
func (s *Service) ImportScore(ctx context.Context, rec *ImportRecord) error {
	g, err := s.game(ctx, rec.Game)
	if err != nil {
		return err
	}

	sc := &storage.Score{
		ID:         uuid.New().String(),
		Game:       g.Name,
		Category:   rec.Category,
		PlayerName: rec.PlayerName,
		DeviceID:   rec.DeviceID,
		IP:         rec.IP,
		Country:    s.country(ctx, rec.IP),
		Value:      rec.Value,
		Fields:     rec.Fields,
		CreatedAt:  rec.When,
	}
	if sc.DeviceID == "" {
		sc.DeviceID = storage.DefaultDeviceID
	}

	err = s.store.WithGameTx(ctx, g.Name, func(tx storage.Tx) error {
		if err := tx.PutScore(ctx, sc); err != nil {
			return err
		}
		if err := tx.IncrementGameTotal(ctx, 1); err != nil {
			return err
		}
		return tx.IncrementCountryTotal(ctx, sc.Country, 1)
	})
	if err != nil {
		return fmt.Errorf("importing score for game %s: %w", g.Name, err)
	}

	if g.RankingEnabled {
		if terr := s.importIntoTree(ctx, g, sc); terr != nil {
			s.log.Error("rank tree update failed after import",
				slog.String("game", g.Name),
				slog.String("identity", sc.Identity()),
				slog.Any("error", terr))
		}
	}

	metrics.ScoresAccepted.WithLabelValues(g.Name, "import").Inc()
	return nil
}

// importIntoTree folds an imported row into the live tree, keeping the
// identity's best score. A tree that has not been created yet picks the row
// up later while warming.
func (s *Service) importIntoTree(ctx context.Context, g *storage.Game, sc *storage.Score) error {
	r, err := s.tree(ctx, g, sc.Category)
	if err != nil {
		return err
	}
	v := int64(sc.Value)
	if cur, ok := r.Score(sc.Identity()); ok && cur >= v {
		return nil
	}
	return r.SetScore(sc.Identity(), &v)
}
