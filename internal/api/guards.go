package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/score-server/internal/storage"
)

// GameLookup is the slice of the store the owner guard needs
type GameLookup interface {
	GetGame(ctx context.Context, name string) (*storage.Game, error)
}

// RequireGameKey guards destructive endpoints. The caller must present the
// game's secret key in the X-Game-Key header.
func RequireGameKey(store GameLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			game := r.URL.Query().Get("gamename")
			if game == "" {
				http.Error(w, "variable gamename not found", http.StatusBadRequest)
				return
			}

			g, err := store.GetGame(r.Context(), game)
			if err != nil {
				if errors.Is(err, storage.ErrGameNotFound) {
					http.Error(w, "game not found "+game, http.StatusNotFound)
					return
				}
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			key := r.Header.Get("X-Game-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(g.SecretKey)) != 1 {
				http.Error(w, "invalid game key", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
