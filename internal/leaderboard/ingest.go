package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/score-server/internal/metrics"
	"github.com/score-server/internal/storage"
)

// Submission is one client score submission: the full parameter set as
// received, plus the resolved remote address.
type Submission struct {
	GameName   string
	RemoteAddr string
	Params     map[string]string
}

// UpdateResult reports the outcome of an update-mode submission
type UpdateResult struct {
	RankingEnabled bool
	Rank           int64 // 1-based rank of the submitted value, when ranking is enabled
	Updated        bool
}

// PostScore handles an append-only submission: every accepted call creates a
// new score row, and both aggregate counters bump inside the same
// transaction. Ranking-enabled games reject post mode.
func (s *Service) PostScore(ctx context.Context, sub *Submission) error {
	g, err := s.game(ctx, sub.GameName)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(sub.GameName, "validation").Inc()
		return err
	}
	if g.RankingEnabled {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "capability").Inc()
		return Capabilityf("ranking is not supported with post mode")
	}
	if err := s.checkChecksum(g.Name, g.SecretKey, sub); err != nil {
		return err
	}

	fields, err := s.store.ListFields(ctx, g.Name)
	if err != nil {
		return fmt.Errorf("loading fields for game %s: %w", g.Name, err)
	}
	caster := NewCaster(g.Name, fields)

	sc := &storage.Score{
		ID:       uuid.New().String(),
		Game:     g.Name,
		Category: sub.Params["cc_category"],
		DeviceID: sub.Params["cc_device_id"],
		IP:       sub.RemoteAddr,
		Fields:   make(map[string]any),
	}
	if sc.DeviceID == "" {
		sc.DeviceID = storage.DefaultDeviceID
	}

	rawScore, ok := sub.Params["cc_score"]
	if !ok {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "validation").Inc()
		return Validationf("variable cc_score not found")
	}
	sc.Value, err = s.castScoreValue(caster, rawScore)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "type_cast").Inc()
		return err
	}

	sc.PlayerName = sub.Params["cc_playername"]
	for name, raw := range sub.Params {
		if !strings.HasPrefix(name, UserFieldPrefix) {
			continue
		}
		v, err := caster.Cast(name, raw)
		if err != nil {
			metrics.SubmissionsRejected.WithLabelValues(g.Name, "type_cast").Inc()
			return err
		}
		sc.Fields[name] = v
		if g.UseNewPlayerName && name == "usr_playername" {
			sc.PlayerName = fmt.Sprint(v)
		}
	}

	sc.Country = s.country(ctx, sub.RemoteAddr)

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
		return fmt.Errorf("persisting score for game %s: %w", g.Name, err)
	}

	metrics.ScoresAccepted.WithLabelValues(g.Name, "post").Inc()
	s.publish(AcceptedScore{
		Game:       g.Name,
		Category:   sc.Category,
		PlayerName: sc.PlayerName,
		DeviceID:   sc.DeviceID,
		Country:    sc.Country,
		Value:      sc.Value,
		New:        true,
		When:       sc.UpdatedAt,
	})
	return nil
}

// UpdateScore handles an upsert-if-better submission keyed by
// (category, playername, deviceid). Aggregates bump only when the identity is
// first created. The rank tree is updated after the transaction commits; that
// window is a known consistency gap, recovered by tree warming.
func (s *Service) UpdateScore(ctx context.Context, sub *Submission) (*UpdateResult, error) {
	g, err := s.game(ctx, sub.GameName)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(sub.GameName, "validation").Inc()
		return nil, err
	}
	if err := s.checkChecksum(g.Name, g.SecretKey, sub); err != nil {
		return nil, err
	}

	category := sub.Params["cc_category"]
	deviceID := sub.Params["cc_device_id"]
	if deviceID == "" {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "validation").Inc()
		return nil, Validationf("no cc_device_id in game %s", g.Name)
	}
	playerName, ok := sub.Params["cc_playername"]
	if !ok {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "validation").Inc()
		return nil, Validationf("no cc_playername in game %s", g.Name)
	}
	rawScore, ok := sub.Params["cc_score"]
	if !ok {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "validation").Inc()
		return nil, Validationf("variable cc_score not found")
	}

	fields, err := s.store.ListFields(ctx, g.Name)
	if err != nil {
		return nil, fmt.Errorf("loading fields for game %s: %w", g.Name, err)
	}
	caster := NewCaster(g.Name, fields)

	value, err := s.castScoreValue(caster, rawScore)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues(g.Name, "type_cast").Inc()
		return nil, err
	}

	userFields := make(map[string]any)
	for name, raw := range sub.Params {
		if !strings.HasPrefix(name, UserFieldPrefix) {
			continue
		}
		v, err := caster.Cast(name, raw)
		if err != nil {
			metrics.SubmissionsRejected.WithLabelValues(g.Name, "type_cast").Inc()
			return nil, err
		}
		userFields[name] = v
	}

	identity := playerName + "@" + deviceID
	country := s.country(ctx, sub.RemoteAddr)

	// Identity resolution and the insert-or-update decision run inside the
	// per-game consistency scope: concurrent first submissions for the same
	// identity serialize on the game lock, so only one of them creates the
	// row and bumps the aggregates.
	var (
		isNew    bool
		improved bool
		sc       *storage.Score
	)
	err = s.store.WithGameTx(ctx, g.Name, func(tx storage.Tx) error {
		existing, err := tx.FindScore(ctx, category, playerName, deviceID)
		if err != nil && !errors.Is(err, storage.ErrScoreNotFound) {
			return err
		}
		isNew = existing == nil
		improved = isNew ||
			(g.Descending() && value > existing.Value) ||
			(!g.Descending() && value < existing.Value)
		if !improved {
			return nil
		}

		if isNew {
			sc = &storage.Score{
				ID:         uuid.New().String(),
				Game:       g.Name,
				Category:   category,
				PlayerName: playerName,
				DeviceID:   deviceID,
				IP:         sub.RemoteAddr,
				Fields:     userFields,
				Country:    country,
				Value:      value,
			}
		} else {
			sc = existing
			sc.Country = country
			sc.Value = value
			if sc.Fields == nil {
				sc.Fields = make(map[string]any)
			}
			for k, v := range userFields {
				sc.Fields[k] = v
			}
		}

		if err := tx.PutScore(ctx, sc); err != nil {
			return err
		}
		if !isNew {
			return nil
		}
		if err := tx.IncrementGameTotal(ctx, 1); err != nil {
			return err
		}
		return tx.IncrementCountryTotal(ctx, country, 1)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting score for game %s: %w", g.Name, err)
	}

	if improved {
		if g.RankingEnabled {
			// Not atomic with the score write: a crash in this window
			// leaves the tree stale until it is rebuilt from the table.
			iv := int64(value)
			r, terr := s.tree(ctx, g, category)
			if terr == nil {
				terr = r.SetScore(identity, &iv)
			}
			if terr != nil {
				s.log.Error("rank tree update failed after commit",
					slog.String("game", g.Name),
					slog.String("category", category),
					slog.String("identity", identity),
					slog.Any("error", terr))
			}
		}

		metrics.ScoresAccepted.WithLabelValues(g.Name, "update").Inc()
		s.publish(AcceptedScore{
			Game:       g.Name,
			Category:   category,
			PlayerName: playerName,
			DeviceID:   deviceID,
			Country:    country,
			Value:      value,
			New:        isNew,
			When:       sc.UpdatedAt,
		})
	}

	res := &UpdateResult{Updated: improved, RankingEnabled: g.RankingEnabled}
	if g.RankingEnabled {
		r, err := s.tree(ctx, g, category)
		if err != nil {
			return nil, fmt.Errorf("loading rank tree for game %s: %w", g.Name, err)
		}
		// Rank of the submitted value, even when the stored score was better.
		rank, err := r.FindRank(int64(value))
		if err != nil {
			return nil, Validationf("score %v outside ranking bounds of game %s", value, g.Name)
		}
		res.Rank = rank + 1
	}
	return res, nil
}

// DeleteScore removes one score row and reverses its aggregate contributions
// in the same transaction, then drops its identity from the rank tree.
func (s *Service) DeleteScore(ctx context.Context, gameName, id string) error {
	g, err := s.game(ctx, gameName)
	if err != nil {
		return err
	}

	var deleted *storage.Score
	err = s.store.WithGameTx(ctx, g.Name, func(tx storage.Tx) error {
		sc, err := tx.DeleteScore(ctx, id)
		if err != nil {
			return err
		}
		deleted = sc
		if err := tx.IncrementGameTotal(ctx, -1); err != nil {
			return err
		}
		return tx.IncrementCountryTotal(ctx, sc.Country, -1)
	})
	if err != nil {
		if errors.Is(err, storage.ErrScoreNotFound) {
			return Validationf("score not found %s", id)
		}
		return fmt.Errorf("deleting score %s of game %s: %w", id, g.Name, err)
	}

	if g.RankingEnabled && deleted != nil {
		r, terr := s.tree(ctx, g, deleted.Category)
		if terr == nil {
			terr = r.SetScore(deleted.Identity(), nil)
		}
		if terr != nil {
			s.log.Error("rank tree removal failed after delete",
				slog.String("game", g.Name),
				slog.String("identity", deleted.Identity()),
				slog.Any("error", terr))
		}
	}
	return nil
}

// ResetScores drops all of a game's scores, zeroes its aggregates and
// discards its rank trees. The next ranking access rebuilds empty trees.
func (s *Service) ResetScores(ctx context.Context, gameName string) error {
	g, err := s.game(ctx, gameName)
	if err != nil {
		return err
	}
	err = s.store.WithGameTx(ctx, g.Name, func(tx storage.Tx) error {
		return tx.ResetGame(ctx)
	})
	if err != nil {
		return fmt.Errorf("resetting scores of game %s: %w", g.Name, err)
	}
	s.trees.Drop(g.Name)
	s.log.Info("game scores reset", slog.String("game", g.Name))
	return nil
}

func (s *Service) checkChecksum(game, secretKey string, sub *Submission) error {
	if err := ValidateChecksum(sub.Params, secretKey); err != nil {
		s.log.Warn("checksum validation failed",
			slog.String("game", game),
			slog.String("remote", sub.RemoteAddr))
		metrics.ChecksumFailures.WithLabelValues(game).Inc()
		return err
	}
	return nil
}

func (s *Service) castScoreValue(caster *Caster, raw string) (float64, error) {
	v, err := caster.Cast("cc_score", raw)
	if err != nil {
		return 0, err
	}
	return numeric("cc_score", v)
}
