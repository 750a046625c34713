package storage

import (
	"context"
	"errors"
	"time"
)

// Score ordering directions
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// Declared field types
const (
	FieldInt    = "int"
	FieldFloat  = "float"
	FieldString = "string"
	FieldDate   = "date"
)

// DefaultDeviceID is stored when a submission carries no device identifier
const DefaultDeviceID = "no_device"

var (
	ErrGameNotFound  = errors.New("game not found")
	ErrScoreNotFound = errors.New("score not found")
	ErrGameExists    = errors.New("game already exists")
)

// Game holds a game's leaderboard configuration
type Game struct {
	Name                string    `json:"name"`
	SecretKey           string    `json:"-"`
	ScoreOrder          string    `json:"scoreOrder"`
	TotalScores         int64     `json:"totalScores"`
	UseNewPlayerName    bool      `json:"useNewPlayername"`
	RankingEnabled      bool      `json:"rankingEnabled"`
	RankingMinScore     int64     `json:"rankingMinScore"`
	RankingMaxScore     int64     `json:"rankingMaxScore"`
	RankingBranchFactor int       `json:"rankingBranchFactor"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Descending reports whether a bigger score is better for this game
func (g *Game) Descending() bool {
	return g.ScoreOrder != OrderAsc
}

// ScoreField is a per-game declared submission field
type ScoreField struct {
	Game       string `json:"game"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Send       bool   `json:"send"`
	DisplayWeb bool   `json:"displayWeb"`
	Reserved   bool   `json:"reserved"`
}

// Score is one leaderboard entry
type Score struct {
	ID         string         `json:"id"`
	Game       string         `json:"game"`
	Category   string         `json:"category"`
	PlayerName string         `json:"playername"`
	DeviceID   string         `json:"deviceId"`
	Country    string         `json:"country"`
	IP         string         `json:"-"`
	Value      float64        `json:"score"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Identity is the ranked-entity key. A player switching devices is tracked
// as a distinct entity.
func (s *Score) Identity() string {
	return s.PlayerName + "@" + s.DeviceID
}

// IdentityScore is the stored score of one ranked identity
type IdentityScore struct {
	PlayerName string
	DeviceID   string
	Value      float64
}

// CountryCount is the per-(game, country) running score count
type CountryCount struct {
	Game     string `json:"game"`
	Country  string `json:"country"`
	Quantity int64  `json:"quantity"`
}

// ScoreQuery selects a page of scores for one game and category
type ScoreQuery struct {
	Game       string
	Category   string
	Country    string // empty = no country filter
	DeviceID   string // empty = no device filter
	Since      time.Time
	Offset     int
	Limit      int
	Descending bool
}

// Tx is the mutation surface available inside a per-game transaction.
// All methods operate on the game the transaction was opened for.
type Tx interface {
	FindScore(ctx context.Context, category, playerName, deviceID string) (*Score, error)
	PutScore(ctx context.Context, s *Score) error
	DeleteScore(ctx context.Context, id string) (*Score, error)
	IncrementGameTotal(ctx context.Context, delta int64) error
	IncrementCountryTotal(ctx context.Context, country string, delta int64) error
	ResetGame(ctx context.Context) error
}

// DefaultFields returns the reserved protocol fields every game starts with.
// scoreType configures the declared type of cc_score.
func DefaultFields(game, scoreType string) []ScoreField {
	if scoreType != FieldInt && scoreType != FieldFloat {
		scoreType = FieldInt
	}
	return []ScoreField{
		{Game: game, Name: "cc_device_id", Type: FieldString, Send: false, DisplayWeb: false, Reserved: true},
		{Game: game, Name: "cc_game", Type: FieldString, Send: false, DisplayWeb: false, Reserved: true},
		{Game: game, Name: "cc_ip", Type: FieldString, Send: false, DisplayWeb: false, Reserved: true},
		{Game: game, Name: "cc_country", Type: FieldString, Send: true, DisplayWeb: true, Reserved: true},
		{Game: game, Name: "cc_when", Type: FieldDate, Send: false, DisplayWeb: true, Reserved: true},
		{Game: game, Name: "cc_category", Type: FieldString, Send: false, DisplayWeb: false, Reserved: true},
		{Game: game, Name: "cc_score", Type: scoreType, Send: true, DisplayWeb: true, Reserved: true},
		{Game: game, Name: "cc_playername", Type: FieldString, Send: true, DisplayWeb: true, Reserved: true},
	}
}
