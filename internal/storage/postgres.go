package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txRetries bounds how often a conflicting game transaction is retried
// before the error is surfaced to the caller.
const txRetries = 3

// PostgresStore handles database operations
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and initializes the schema
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	store := &PostgresStore{pool: pool}

	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	slog.Info("Connected to PostgreSQL database")
	return store, nil
}

// initSchema creates the necessary tables
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS games (
			name TEXT PRIMARY KEY,
			secret_key TEXT NOT NULL,
			score_order TEXT NOT NULL DEFAULT 'desc',
			total_scores BIGINT NOT NULL DEFAULT 0,
			use_new_playername BOOLEAN NOT NULL DEFAULT FALSE,
			ranking_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			ranking_min_score BIGINT NOT NULL DEFAULT 0,
			ranking_max_score BIGINT NOT NULL DEFAULT 20000,
			ranking_branch_factor INTEGER NOT NULL DEFAULT 100,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS score_fields (
			game TEXT NOT NULL REFERENCES games(name) ON DELETE CASCADE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			send BOOLEAN NOT NULL DEFAULT TRUE,
			display_web BOOLEAN NOT NULL DEFAULT TRUE,
			reserved BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (game, name)
		);

		CREATE TABLE IF NOT EXISTS scores (
			id UUID PRIMARY KEY,
			game TEXT NOT NULL REFERENCES games(name) ON DELETE CASCADE,
			category TEXT NOT NULL DEFAULT '',
			player_name TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT 'no_device',
			country TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			fields JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_scores_order ON scores(game, category, score);
		CREATE INDEX IF NOT EXISTS idx_scores_identity ON scores(game, category, player_name, device_id);
		CREATE INDEX IF NOT EXISTS idx_scores_country ON scores(game, category, country);
		CREATE INDEX IF NOT EXISTS idx_scores_device ON scores(game, category, device_id);

		CREATE TABLE IF NOT EXISTS country_scores (
			game TEXT NOT NULL REFERENCES games(name) ON DELETE CASCADE,
			country TEXT NOT NULL,
			quantity BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (game, country)
		);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// CreateGame inserts a game and its reserved protocol fields.
// A ranking-enabled game must order descending and start with zero scores so
// the rank tree and the raw score totals begin in sync.
func (s *PostgresStore) CreateGame(ctx context.Context, g *Game, scoreType string) error {
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

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO games (name, secret_key, score_order, use_new_playername,
		                   ranking_enabled, ranking_min_score, ranking_max_score, ranking_branch_factor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO NOTHING
	`, g.Name, g.SecretKey, g.ScoreOrder, g.UseNewPlayerName,
		g.RankingEnabled, g.RankingMinScore, g.RankingMaxScore, g.RankingBranchFactor)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGameExists
	}

	for _, f := range DefaultFields(g.Name, scoreType) {
		if err := s.CreateField(ctx, &f); err != nil {
			return err
		}
	}
	return nil
}

// CreateField declares a submission field for a game
func (s *PostgresStore) CreateField(ctx context.Context, f *ScoreField) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO score_fields (game, name, type, send, display_web, reserved)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game, name) DO UPDATE
		SET type = EXCLUDED.type, send = EXCLUDED.send, display_web = EXCLUDED.display_web
	`, f.Game, f.Name, f.Type, f.Send, f.DisplayWeb, f.Reserved)
	return err
}

// GetGame loads a game by name
func (s *PostgresStore) GetGame(ctx context.Context, name string) (*Game, error) {
	var g Game
	err := s.pool.QueryRow(ctx, `
		SELECT name, secret_key, score_order, total_scores, use_new_playername,
		       ranking_enabled, ranking_min_score, ranking_max_score, ranking_branch_factor, created_at
		FROM games WHERE name = $1
	`, name).Scan(&g.Name, &g.SecretKey, &g.ScoreOrder, &g.TotalScores, &g.UseNewPlayerName,
		&g.RankingEnabled, &g.RankingMinScore, &g.RankingMaxScore, &g.RankingBranchFactor, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListFields returns a game's declared fields
func (s *PostgresStore) ListFields(ctx context.Context, game string) ([]ScoreField, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game, name, type, send, display_web, reserved
		FROM score_fields WHERE game = $1 ORDER BY name
	`, game)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []ScoreField
	for rows.Next() {
		var f ScoreField
		if err := rows.Scan(&f.Game, &f.Name, &f.Type, &f.Send, &f.DisplayWeb, &f.Reserved); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

const scoreColumns = `id, game, category, player_name, device_id, country, ip, score, fields, created_at, updated_at`

func scanScore(row pgx.Row) (*Score, error) {
	var sc Score
	var fields []byte
	err := row.Scan(&sc.ID, &sc.Game, &sc.Category, &sc.PlayerName, &sc.DeviceID,
		&sc.Country, &sc.IP, &sc.Value, &fields, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &sc.Fields); err != nil {
			return nil, fmt.Errorf("error decoding score fields: %w", err)
		}
	}
	return &sc, nil
}

// FindScore looks up the score stored for one update-mode identity
func (s *PostgresStore) FindScore(ctx context.Context, game, category, playerName, deviceID string) (*Score, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scoreColumns+` FROM scores
		WHERE game = $1 AND category = $2 AND player_name = $3 AND device_id = $4
		LIMIT 1
	`, game, category, playerName, deviceID)
	sc, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	return sc, err
}

// GetScore loads one score row by ID
func (s *PostgresStore) GetScore(ctx context.Context, game, id string) (*Score, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scoreColumns+` FROM scores WHERE game = $1 AND id = $2
	`, game, id)
	sc, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	return sc, err
}

// ListScores returns a page of scores ordered by the score value
func (s *PostgresStore) ListScores(ctx context.Context, q ScoreQuery) ([]Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE game = $1 AND category = $2`
	args := []any{q.Game, q.Category}

	if q.Country != "" {
		args = append(args, q.Country)
		query += fmt.Sprintf(" AND country = $%d", len(args))
	}
	if q.DeviceID != "" {
		args = append(args, q.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		query += fmt.Sprintf(" AND created_at > $%d", len(args))
	}

	if q.Descending {
		query += " ORDER BY score DESC"
	} else {
		query += " ORDER BY score ASC"
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, q.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// BestScores returns the best stored score per identity for one (game, category).
// Used to warm a rank tree from the ground-truth score table.
func (s *PostgresStore) BestScores(ctx context.Context, game, category string) ([]IdentityScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_name, device_id, MAX(score)
		FROM scores WHERE game = $1 AND category = $2
		GROUP BY player_name, device_id
	`, game, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentityScore
	for rows.Next() {
		var is IdentityScore
		if err := rows.Scan(&is.PlayerName, &is.DeviceID, &is.Value); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// CountryCounts returns the per-country aggregates for a game
func (s *PostgresStore) CountryCounts(ctx context.Context, game string) ([]CountryCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT game, country, quantity FROM country_scores WHERE game = $1 ORDER BY country
	`, game)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Game, &c.Country, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// WithGameTx runs fn inside a transaction serialized against other writers of
// the same game. Writers of different games never block each other. A
// conflicting transaction is retried a bounded number of times.
func (s *PostgresStore) WithGameTx(ctx context.Context, game string, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		err := s.runGameTx(ctx, game, fn)
		if err == nil {
			return nil
		}
		if !retryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction on game %q aborted after %d attempts: %w", game, txRetries, lastErr)
}

func (s *PostgresStore) runGameTx(ctx context.Context, game string, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// One advisory lock per game is the consistency scope: all mutating
	// sequences on a game serialize here.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, game); err != nil {
		return err
	}

	if err := fn(&pgTx{tx: tx, game: game}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// pgTx implements Tx over one open pgx transaction
type pgTx struct {
	tx   pgx.Tx
	game string
}

func (t *pgTx) FindScore(ctx context.Context, category, playerName, deviceID string) (*Score, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+scoreColumns+` FROM scores
		WHERE game = $1 AND category = $2 AND player_name = $3 AND device_id = $4
		LIMIT 1
	`, t.game, category, playerName, deviceID)
	sc, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	return sc, err
}

func (t *pgTx) PutScore(ctx context.Context, sc *Score) error {
	fields, err := json.Marshal(sc.Fields)
	if err != nil {
		return fmt.Errorf("error encoding score fields: %w", err)
	}
	if sc.Fields == nil {
		fields = []byte("{}")
	}

	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now

	_, err = t.tx.Exec(ctx, `
		INSERT INTO scores (id, game, category, player_name, device_id, country, ip, score, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET country = EXCLUDED.country, ip = EXCLUDED.ip, score = EXCLUDED.score,
		    fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at
	`, sc.ID, t.game, sc.Category, sc.PlayerName, sc.DeviceID, sc.Country, sc.IP,
		sc.Value, fields, sc.CreatedAt, sc.UpdatedAt)
	return err
}

func (t *pgTx) DeleteScore(ctx context.Context, id string) (*Score, error) {
	row := t.tx.QueryRow(ctx, `
		DELETE FROM scores WHERE game = $1 AND id = $2
		RETURNING `+scoreColumns,
		t.game, id)
	sc, err := scanScore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	return sc, err
}

func (t *pgTx) IncrementGameTotal(ctx context.Context, delta int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE games SET total_scores = total_scores + $2 WHERE name = $1
	`, t.game, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

func (t *pgTx) IncrementCountryTotal(ctx context.Context, country string, delta int64) error {
	// Atomic get-or-insert keyed by (game, country): two concurrent first
	// scores from a new country cannot create duplicate aggregate rows.
	_, err := t.tx.Exec(ctx, `
		INSERT INTO country_scores (game, country, quantity)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (game, country) DO UPDATE
		SET quantity = GREATEST(country_scores.quantity + $3, 0)
	`, t.game, country, delta)
	return err
}

func (t *pgTx) ResetGame(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM scores WHERE game = $1`, t.game); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM country_scores WHERE game = $1`, t.game); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE games SET total_scores = 0 WHERE name = $1`, t.game)
	return err
}

// Close closes the database connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}
