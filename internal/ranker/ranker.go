// Package ranker implements a counting order-statistics tree over
// (identity, score) pairs. Nodes live in a flat arena indexed by position
// instead of being pointer-linked, and each node holds one counter per child
// slot, so rank queries walk a single root-to-leaf path in O(log n).
//
// Rank 0 is the best (highest) score. FindRank counts entries with a strictly
// better score, so all identities tied on a score share the rank at the head
// of their group; FindScore resolves a rank back to that group's score and
// its tie count.
package ranker

import (
	"fmt"
	"sync"
)

// Config carries the immutable tree parameters, read once from the owning
// game's configuration at creation time.
type Config struct {
	MinScore     int64
	MaxScore     int64 // inclusive
	BranchFactor int
}

type node struct {
	counts   []int64
	children []int32 // arena index + 1; 0 = not allocated
}

// Ranker is one rank tree scoped to a single (game, category) leaderboard.
// Writes serialize on the tree mutex; reads share an RLock.
type Ranker struct {
	mu     sync.RWMutex
	cfg    Config
	nodes  []node
	scores map[string]int64 // identity -> current ranked score
	total  int64
}

// New allocates an empty tree for scores in [cfg.MinScore, cfg.MaxScore]
func New(cfg Config) (*Ranker, error) {
	if cfg.BranchFactor < 2 {
		return nil, fmt.Errorf("ranker: branch factor %d is below 2", cfg.BranchFactor)
	}
	if cfg.MaxScore <= cfg.MinScore {
		return nil, fmt.Errorf("ranker: empty score range [%d, %d]", cfg.MinScore, cfg.MaxScore)
	}
	r := &Ranker{
		cfg:    cfg,
		scores: make(map[string]int64),
	}
	r.nodes = append(r.nodes, r.newNode())
	return r, nil
}

func (r *Ranker) newNode() node {
	return node{
		counts:   make([]int64, r.cfg.BranchFactor),
		children: make([]int32, r.cfg.BranchFactor),
	}
}

// Config returns the tree's creation-time parameters
func (r *Ranker) Config() Config {
	return r.cfg
}

// Count returns the number of ranked identities
func (r *Ranker) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// childSlot returns which child of a node covering [lo, hi) holds score.
// The span is split into branchFactor near-equal subranges; the leading
// span%branch slots are one wider than the rest.
func (r *Ranker) childSlot(lo, hi, score int64) int {
	span := hi - lo
	b := int64(r.cfg.BranchFactor)
	base := span / b
	rem := span % b
	off := score - lo
	cut := rem * (base + 1)
	if off < cut {
		return int(off / (base + 1))
	}
	return int(rem + (off-cut)/base)
}

// childRange returns the [lo, hi) range covered by child slot i
func (r *Ranker) childRange(lo, hi int64, i int) (int64, int64) {
	span := hi - lo
	b := int64(r.cfg.BranchFactor)
	base := span / b
	rem := span % b
	if int64(i) < rem {
		start := lo + int64(i)*(base+1)
		return start, start + base + 1
	}
	start := lo + rem*(base+1) + (int64(i)-rem)*base
	return start, start + base
}

// adjust adds delta to the counters along score's root-to-leaf path,
// allocating nodes on the way down as needed.
func (r *Ranker) adjust(score, delta int64) {
	idx := 0
	lo, hi := r.cfg.MinScore, r.cfg.MaxScore+1
	for {
		i := r.childSlot(lo, hi, score)
		r.nodes[idx].counts[i] += delta
		clo, chi := r.childRange(lo, hi, i)
		if chi-clo <= 1 {
			return
		}
		if r.nodes[idx].children[i] == 0 {
			r.nodes = append(r.nodes, r.newNode())
			r.nodes[idx].children[i] = int32(len(r.nodes))
		}
		idx = int(r.nodes[idx].children[i]) - 1
		lo, hi = clo, chi
	}
}

// SetScore inserts or overwrites the entry for identity; nil removes it.
// Re-applying the same (identity, score) pair is a no-op, so retries after a
// partial failure are safe.
func (r *Ranker) SetScore(identity string, score *int64) error {
	if score != nil && (*score < r.cfg.MinScore || *score > r.cfg.MaxScore) {
		return fmt.Errorf("ranker: score %d outside [%d, %d]", *score, r.cfg.MinScore, r.cfg.MaxScore)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, had := r.scores[identity]
	if score != nil && had && old == *score {
		return nil
	}
	if had {
		r.adjust(old, -1)
		r.total--
		delete(r.scores, identity)
	}
	if score != nil {
		r.adjust(*score, 1)
		r.total++
		r.scores[identity] = *score
	}
	return nil
}

// Score returns the ranked score stored for identity
func (r *Ranker) Score(identity string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scores[identity]
	return s, ok
}

func (r *Ranker) findRankLocked(score int64) int64 {
	var rank int64
	idx := 0
	lo, hi := r.cfg.MinScore, r.cfg.MaxScore+1
	for {
		i := r.childSlot(lo, hi, score)
		n := r.nodes[idx]
		for j := i + 1; j < r.cfg.BranchFactor; j++ {
			rank += n.counts[j]
		}
		clo, chi := r.childRange(lo, hi, i)
		if chi-clo <= 1 || n.children[i] == 0 {
			return rank
		}
		idx = int(n.children[i]) - 1
		lo, hi = clo, chi
	}
}

// FindRank returns the 0-based rank a given score ranks at: the number of
// entries with a strictly better score.
func (r *Ranker) FindRank(score int64) (int64, error) {
	if score < r.cfg.MinScore || score > r.cfg.MaxScore {
		return 0, fmt.Errorf("ranker: score %d outside [%d, %d]", score, r.cfg.MinScore, r.cfg.MaxScore)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findRankLocked(score), nil
}

// FindRanks is the batch form of FindRank. The result order matches the input
// order and every element equals an individual FindRank call.
func (r *Ranker) FindRanks(scores []int64) ([]int64, error) {
	for _, s := range scores {
		if s < r.cfg.MinScore || s > r.cfg.MaxScore {
			return nil, fmt.Errorf("ranker: score %d outside [%d, %d]", s, r.cfg.MinScore, r.cfg.MaxScore)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, len(scores))
	for i, s := range scores {
		out[i] = r.findRankLocked(s)
	}
	return out, nil
}

// FindScore is the inverse of FindRank: it returns the score holding the
// given 0-based rank and how many entries are tied on it.
func (r *Ranker) FindScore(rank int64) (score int64, ties int64, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rank < 0 || rank >= r.total {
		return 0, 0, fmt.Errorf("ranker: rank %d out of range (have %d entries)", rank, r.total)
	}

	idx := 0
	lo, hi := r.cfg.MinScore, r.cfg.MaxScore+1
	for {
		n := r.nodes[idx]
		advanced := false
		for i := r.cfg.BranchFactor - 1; i >= 0; i-- {
			c := n.counts[i]
			if rank >= c {
				rank -= c
				continue
			}
			clo, chi := r.childRange(lo, hi, i)
			if chi-clo <= 1 {
				return clo, c, nil
			}
			idx = int(n.children[i]) - 1
			lo, hi = clo, chi
			advanced = true
			break
		}
		if !advanced {
			// Counters along the path always cover total entries.
			return 0, 0, fmt.Errorf("ranker: inconsistent tree state at rank %d", rank)
		}
	}
}
