package ranker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRanker(t *testing.T, min, max int64, branch int) *Ranker {
	t.Helper()
	r, err := New(Config{MinScore: min, MaxScore: max, BranchFactor: branch})
	require.NoError(t, err)
	return r
}

func set(t *testing.T, r *Ranker, identity string, score int64) {
	t.Helper()
	require.NoError(t, r.SetScore(identity, &score))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{MinScore: 0, MaxScore: 100, BranchFactor: 1})
	assert.Error(t, err)

	_, err = New(Config{MinScore: 100, MaxScore: 100, BranchFactor: 16})
	assert.Error(t, err)

	_, err = New(Config{MinScore: 200, MaxScore: 100, BranchFactor: 16})
	assert.Error(t, err)
}

func TestRankThreePlayers(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 16)

	set(t, r, "A@dev1", 500)
	set(t, r, "B@dev2", 700)
	set(t, r, "C@dev3", 300)

	rank, err := r.FindRank(700)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank)

	rank, err = r.FindRank(500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	rank, err = r.FindRank(300)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)

	score, ties, err := r.FindScore(0)
	require.NoError(t, err)
	assert.Equal(t, int64(700), score)
	assert.Equal(t, int64(1), ties)

	score, ties, err = r.FindScore(2)
	require.NoError(t, err)
	assert.Equal(t, int64(300), score)
	assert.Equal(t, int64(1), ties)
}

func TestTiesShareGroupHeadRank(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 8)

	set(t, r, "a", 900)
	set(t, r, "b", 500)
	set(t, r, "c", 500)
	set(t, r, "d", 500)
	set(t, r, "e", 100)

	// Everyone at 500 ranks below the single 900.
	rank, err := r.FindRank(500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	// 100 ranks below all four better entries.
	rank, err = r.FindRank(100)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rank)

	// Ranks 1 through 3 all resolve to the tied group.
	for want := int64(1); want <= 3; want++ {
		score, ties, err := r.FindScore(want)
		require.NoError(t, err)
		assert.Equal(t, int64(500), score)
		assert.Equal(t, int64(3), ties)
	}
}

func TestFindRankOfAbsentScore(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 16)

	set(t, r, "a", 800)
	set(t, r, "b", 200)

	// A score nobody holds still ranks against the stored entries.
	rank, err := r.FindRank(500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)
}

func TestFindRanksMatchesFindRank(t *testing.T) {
	r := newTestRanker(t, 0, 10000, 10)

	for i := 0; i < 200; i++ {
		set(t, r, fmt.Sprintf("p%d", i), int64((i*137)%10000))
	}

	probes := []int64{0, 1, 137, 500, 4999, 9999}
	batch, err := r.FindRanks(probes)
	require.NoError(t, err)
	require.Len(t, batch, len(probes))

	for i, p := range probes {
		single, err := r.FindRank(p)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "probe %d", p)
	}
}

func TestSetScoreReplacesOldEntry(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 16)

	set(t, r, "p", 300)
	set(t, r, "q", 500)
	set(t, r, "p", 700)

	assert.Equal(t, int64(2), r.Count())

	got, ok := r.Score("p")
	require.True(t, ok)
	assert.Equal(t, int64(700), got)

	rank, err := r.FindRank(700)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank)

	// The old 300 entry is gone.
	rank, err = r.FindRank(300)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank)
	_, _, err = r.FindScore(2)
	assert.Error(t, err)
}

func TestSetScoreIdempotent(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 16)

	set(t, r, "p", 400)
	set(t, r, "p", 400)
	set(t, r, "p", 400)

	assert.Equal(t, int64(1), r.Count())
	rank, err := r.FindRank(400)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank)
}

func TestSetScoreNilRemoves(t *testing.T) {
	r := newTestRanker(t, 0, 1000, 16)

	set(t, r, "p", 400)
	require.NoError(t, r.SetScore("p", nil))

	assert.Equal(t, int64(0), r.Count())
	_, ok := r.Score("p")
	assert.False(t, ok)

	// Removing an absent identity is a no-op.
	require.NoError(t, r.SetScore("ghost", nil))
	assert.Equal(t, int64(0), r.Count())
}

func TestBoundsAreInclusive(t *testing.T) {
	r := newTestRanker(t, 10, 20, 4)

	set(t, r, "low", 10)
	set(t, r, "high", 20)

	rank, err := r.FindRank(20)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rank)

	rank, err = r.FindRank(10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	score := int64(9)
	assert.Error(t, r.SetScore("oob", &score))
	score = 21
	assert.Error(t, r.SetScore("oob", &score))

	_, err = r.FindRank(9)
	assert.Error(t, err)
	_, err = r.FindRank(21)
	assert.Error(t, err)
	_, err = r.FindRanks([]int64{15, 21})
	assert.Error(t, err)
}

func TestFindScoreRankOutOfRange(t *testing.T) {
	r := newTestRanker(t, 0, 100, 4)

	_, _, err := r.FindScore(0)
	assert.Error(t, err)

	set(t, r, "p", 50)
	_, _, err = r.FindScore(1)
	assert.Error(t, err)
	_, _, err = r.FindScore(-1)
	assert.Error(t, err)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := newTestRanker(t, 0, 100000, 16)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := int64((w*1000 + i) % 100000)
				_ = r.SetScore(fmt.Sprintf("w%d-p%d", w, i), &s)
				_, _ = r.FindRank(s)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int64(8*200), r.Count())
}

func TestRegistryReusesTrees(t *testing.T) {
	reg := NewRegistry()
	cfg := Config{MinScore: 0, MaxScore: 1000, BranchFactor: 16}

	warmed := 0
	warm := func(r *Ranker) error {
		warmed++
		s := int64(500)
		return r.SetScore("seed", &s)
	}

	r1, err := reg.GetOrCreate("game1", "easy", cfg, warm)
	require.NoError(t, err)
	r2, err := reg.GetOrCreate("game1", "easy", cfg, warm)
	require.NoError(t, err)

	assert.Same(t, r1, r2)
	assert.Equal(t, 1, warmed)
	assert.Equal(t, int64(1), r1.Count())

	// A different category gets its own tree.
	r3, err := reg.GetOrCreate("game1", "hard", cfg, warm)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
}

func TestRegistryDropDiscardsGameTrees(t *testing.T) {
	reg := NewRegistry()
	cfg := Config{MinScore: 0, MaxScore: 1000, BranchFactor: 16}
	noWarm := func(*Ranker) error { return nil }

	r1, err := reg.GetOrCreate("game1", "easy", cfg, noWarm)
	require.NoError(t, err)
	other, err := reg.GetOrCreate("game2", "easy", cfg, noWarm)
	require.NoError(t, err)

	reg.Drop("game1")

	fresh, err := reg.GetOrCreate("game1", "easy", cfg, noWarm)
	require.NoError(t, err)
	assert.NotSame(t, r1, fresh)

	kept, err := reg.GetOrCreate("game2", "easy", cfg, noWarm)
	require.NoError(t, err)
	assert.Same(t, other, kept)
}
