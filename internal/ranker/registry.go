package ranker

import (
	"strings"
	"sync"
)

// Registry holds the live rank trees, one per (game, category). Trees are
// created lazily with the owning game's bounds and branch factor; those
// parameters stay fixed for the tree's lifetime even if the game's
// configuration changes later.
type Registry struct {
	mu    sync.Mutex
	trees map[string]*Ranker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{trees: make(map[string]*Ranker)}
}

func treeKey(game, category string) string {
	// NUL cannot appear in a game name submitted over HTTP params.
	return game + "\x00" + category
}

// GetOrCreate returns the tree for (game, category), creating and warming it
// on first use. warm replays the ground-truth scores into the fresh tree and
// may be nil; if it fails, the tree is not registered.
func (g *Registry) GetOrCreate(game, category string, cfg Config, warm func(*Ranker) error) (*Ranker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := treeKey(game, category)
	if r, ok := g.trees[key]; ok {
		return r, nil
	}

	r, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if warm != nil {
		if err := warm(r); err != nil {
			return nil, err
		}
	}
	g.trees[key] = r
	return r, nil
}

// Drop discards every tree belonging to a game. The next access re-creates
// and re-warms them from the score table.
func (g *Registry) Drop(game string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := game + "\x00"
	for key := range g.trees {
		if strings.HasPrefix(key, prefix) {
			delete(g.trees, key)
		}
	}
}
