package leaderboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-server/internal/storage"
)

// seedScores inserts n update-mode rows through the store, one identity each,
// with values 1..n.
func seedScores(t *testing.T, store *storage.MemoryStore, game string, n int) {
	t.Helper()
	err := store.WithGameTx(context.Background(), game, func(tx storage.Tx) error {
		for i := 1; i <= n; i++ {
			sc := &storage.Score{
				ID:         fmt.Sprintf("id-%d", i),
				Game:       game,
				Category:   "easy",
				PlayerName: fmt.Sprintf("p%d", i),
				DeviceID:   "dev",
				Country:    "ar",
				Value:      float64(i),
			}
			if err := tx.PutScore(context.Background(), sc); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestListScoresFirstPage(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	seedScores(t, store, "space-war", 120)

	res, err := svc.ListScores(context.Background(), &ListRequest{
		GameName: "space-war",
		Category: "easy",
		Limit:    25,
	})
	require.NoError(t, err)
	require.Len(t, res.Scores, 25)
	assert.True(t, res.ShowNext)

	// Descending order: the best value leads with position 1.
	assert.Equal(t, 120.0, res.Scores[0]["cc_score"])
	assert.Equal(t, 1, res.Scores[0]["position"])
	assert.Equal(t, 96.0, res.Scores[24]["cc_score"])
	assert.Equal(t, 25, res.Scores[24]["position"])
}

func TestListScoresLastPartialPage(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	seedScores(t, store, "space-war", 120)

	res, err := svc.ListScores(context.Background(), &ListRequest{
		GameName: "space-war",
		Category: "easy",
		Offset:   100,
		Limit:    25,
	})
	require.NoError(t, err)
	require.Len(t, res.Scores, 20)
	assert.False(t, res.ShowNext)
	assert.Equal(t, 101, res.Scores[0]["position"])
	assert.Equal(t, 20.0, res.Scores[0]["cc_score"])
}

func TestListScoresProjectsSendFieldsOnly(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	seedScores(t, store, "space-war", 1)

	res, err := svc.ListScores(context.Background(), &ListRequest{
		GameName: "space-war",
		Category: "easy",
	})
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)

	row := res.Scores[0]
	assert.Contains(t, row, "cc_score")
	assert.Contains(t, row, "cc_playername")
	assert.Contains(t, row, "cc_country")
	assert.Contains(t, row, "position")
	assert.NotContains(t, row, "cc_ip")
	assert.NotContains(t, row, "cc_device_id")
}

func TestListScoresValidation(t *testing.T) {
	svc, _, _ := newTestService(t, postGame())
	ctx := context.Background()
	var valErr *ValidationError

	_, err := svc.ListScores(ctx, &ListRequest{GameName: "space-war", Offset: -1})
	require.ErrorAs(t, err, &valErr)

	_, err = svc.ListScores(ctx, &ListRequest{GameName: "space-war", Limit: MaxLimit + 1})
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Message, "greater than")

	_, err = svc.ListScores(ctx, &ListRequest{GameName: "space-war", Limit: -1})
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Message, "negative")

	_, err = svc.ListScores(ctx, &ListRequest{
		GameName: "space-war",
		Flags:    QueryFlagByCountry | QueryFlagByDevice,
	})
	require.ErrorAs(t, err, &valErr)

	_, err = svc.ListScores(ctx, &ListRequest{GameName: "space-war", Flags: QueryFlagByDevice})
	require.ErrorAs(t, err, &valErr)
}

func TestListScoresRankingLimitCap(t *testing.T) {
	svc, _, _ := newTestService(t, rankedGame())

	var valErr *ValidationError
	_, err := svc.ListScores(context.Background(), &ListRequest{
		GameName: "space-war",
		Limit:    MaxRankingLimit + 1,
	})
	require.ErrorAs(t, err, &valErr)
}

func TestListScoresByDevice(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	ctx := context.Background()

	err := store.WithGameTx(ctx, "space-war", func(tx storage.Tx) error {
		for i, dev := range []string{"dev-1", "dev-2", "dev-1"} {
			sc := &storage.Score{
				ID:       fmt.Sprintf("id-%d", i),
				Category: "easy", PlayerName: fmt.Sprintf("p%d", i),
				DeviceID: dev, Value: float64(i + 1),
			}
			if err := tx.PutScore(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	res, err := svc.ListScores(ctx, &ListRequest{
		GameName: "space-war",
		Category: "easy",
		Flags:    QueryFlagByDevice,
		DeviceID: "dev-1",
	})
	require.NoError(t, err)
	assert.Len(t, res.Scores, 2)
}

func TestListScoresByCountry(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	ctx := context.Background()

	err := store.WithGameTx(ctx, "space-war", func(tx storage.Tx) error {
		for i, country := range []string{"ar", "br", "ar"} {
			sc := &storage.Score{
				ID:       fmt.Sprintf("id-%d", i),
				Category: "easy", PlayerName: fmt.Sprintf("p%d", i),
				DeviceID: "dev", Country: country, Value: float64(i + 1),
			}
			if err := tx.PutScore(ctx, sc); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// The stub resolver places the caller in "ar".
	res, err := svc.ListScores(ctx, &ListRequest{
		GameName:   "space-war",
		Category:   "easy",
		Flags:      QueryFlagByCountry,
		RemoteAddr: "203.0.113.9:4242",
	})
	require.NoError(t, err)
	assert.Len(t, res.Scores, 2)
}

func TestListScoresRankedPositionsShareTies(t *testing.T) {
	svc, _, _ := newTestService(t, rankedGame())
	ctx := context.Background()

	for _, s := range []struct {
		player string
		device string
		score  string
	}{
		{"alice", "dev-1", "500"},
		{"bob", "dev-2", "500"},
		{"carol", "dev-3", "700"},
	} {
		sub := &Submission{
			GameName: "space-war",
			Params: sign(map[string]string{
				"cc_category":   "easy",
				"cc_score":      s.score,
				"cc_playername": s.player,
				"cc_device_id":  s.device,
			}),
		}
		_, err := svc.UpdateScore(ctx, sub)
		require.NoError(t, err)
	}

	res, err := svc.ListScores(ctx, &ListRequest{GameName: "space-war", Category: "easy"})
	require.NoError(t, err)
	require.Len(t, res.Scores, 3)

	assert.Equal(t, 700.0, res.Scores[0]["cc_score"])
	assert.Equal(t, int64(1), res.Scores[0]["position"])

	// Both 500-point entries hold the head rank of their group.
	assert.Equal(t, int64(2), res.Scores[1]["position"])
	assert.Equal(t, int64(2), res.Scores[2]["position"])
}

func TestRankQueriesRequireRanking(t *testing.T) {
	svc, _, _ := newTestService(t, postGame())
	ctx := context.Background()
	var capErr *CapabilityError

	_, err := svc.RankForScore(ctx, "space-war", "easy", 100)
	require.ErrorAs(t, err, &capErr)

	_, err = svc.RanksForScores(ctx, "space-war", "easy", []int64{100})
	require.ErrorAs(t, err, &capErr)

	_, _, err = svc.ScoreForRank(ctx, "space-war", "easy", 0)
	require.ErrorAs(t, err, &capErr)
}

func TestRankQueries(t *testing.T) {
	svc, _, _ := newTestService(t, rankedGame())
	ctx := context.Background()

	for _, s := range []struct {
		player string
		score  string
	}{
		{"alice", "500"},
		{"bob", "700"},
		{"carol", "300"},
	} {
		sub := &Submission{
			GameName: "space-war",
			Params: sign(map[string]string{
				"cc_category":   "easy",
				"cc_score":      s.score,
				"cc_playername": s.player,
				"cc_device_id":  "dev-" + s.player,
			}),
		}
		_, err := svc.UpdateScore(ctx, sub)
		require.NoError(t, err)
	}

	rank, err := svc.RankForScore(ctx, "space-war", "easy", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	ranks, err := svc.RanksForScores(ctx, "space-war", "easy", []int64{700, 500, 300, 600})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 2}, ranks)

	score, ties, err := svc.ScoreForRank(ctx, "space-war", "easy", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(700), score)
	assert.Equal(t, int64(1), ties)

	var valErr *ValidationError
	_, err = svc.RankForScore(ctx, "space-war", "easy", 99999)
	require.ErrorAs(t, err, &valErr)
	_, _, err = svc.ScoreForRank(ctx, "space-war", "easy", 10)
	require.ErrorAs(t, err, &valErr)
}

func TestSinceCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.True(t, sinceCutoff(QueryIgnore, now).IsZero())
	assert.True(t, sinceCutoff(QueryAllTime, now).IsZero())
	assert.Equal(t, now.AddDate(0, 0, -1), sinceCutoff(QueryDay, now))
	assert.Equal(t, now.AddDate(0, 0, -7), sinceCutoff(QueryWeek, now))
	assert.Equal(t, now.AddDate(0, 0, -30), sinceCutoff(QueryMonth, now))
}

func TestListScoresRecencyWindow(t *testing.T) {
	svc, store, _ := newTestService(t, postGame())
	ctx := context.Background()

	// One fresh row and one aged row.
	err := store.WithGameTx(ctx, "space-war", func(tx storage.Tx) error {
		return tx.PutScore(ctx, &storage.Score{
			ID: "fresh", Category: "easy", PlayerName: "a", DeviceID: "dev", Value: 10,
		})
	})
	require.NoError(t, err)
	err = store.WithGameTx(ctx, "space-war", func(tx storage.Tx) error {
		return tx.PutScore(ctx, &storage.Score{
			ID: "old", Category: "easy", PlayerName: "b", DeviceID: "dev", Value: 20,
			CreatedAt: time.Now().AddDate(0, 0, -10),
		})
	})
	require.NoError(t, err)

	res, err := svc.ListScores(ctx, &ListRequest{
		GameName:  "space-war",
		Category:  "easy",
		QueryType: QueryWeek,
	})
	require.NoError(t, err)
	require.Len(t, res.Scores, 1)
	assert.Equal(t, 10.0, res.Scores[0]["cc_score"])
}
