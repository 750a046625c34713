package kafka

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/score-server/internal/leaderboard"
)

// Topics
const (
	TopicScoreEvents = "score-events"
	TopicScoreImport = "score-import"
)

// EventType represents the type of leaderboard event
type EventType string

const (
	EventScorePosted  EventType = "score_posted"
	EventScoreUpdated EventType = "score_updated"
)

// ScoreEvent is one accepted submission, published for analytics consumers
type ScoreEvent struct {
	Type      EventType `json:"type"`
	Game      string    `json:"game"`
	Category  string    `json:"category"`
	Player    string    `json:"playername"`
	DeviceID  string    `json:"deviceId"`
	Country   string    `json:"country"`
	Score     float64   `json:"score"`
	New       bool      `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// Producer publishes accepted-score events
type Producer struct {
	producer sarama.SyncProducer
	enabled  bool
}

// NewProducer creates a Kafka producer; when the brokers are unreachable the
// producer disables itself instead of failing the server.
func NewProducer(brokers string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer([]string{brokers}, config)
	if err != nil {
		slog.Warn("Kafka producer not available, events disabled", slog.Any("error", err))
		return &Producer{enabled: false}, nil
	}

	slog.Info("Kafka producer connected", slog.String("brokers", brokers))
	return &Producer{producer: producer, enabled: true}, nil
}

// ScoreAccepted implements leaderboard.Publisher
func (p *Producer) ScoreAccepted(ev leaderboard.AcceptedScore) {
	if !p.enabled {
		return
	}

	typ := EventScoreUpdated
	if ev.New {
		typ = EventScorePosted
	}
	p.send(ScoreEvent{
		Type:      typ,
		Game:      ev.Game,
		Category:  ev.Category,
		Player:    ev.PlayerName,
		DeviceID:  ev.DeviceID,
		Country:   ev.Country,
		Score:     ev.Value,
		New:       ev.New,
		Timestamp: ev.When,
	})
}

// send publishes an event keyed by game so per-game ordering is preserved
func (p *Producer) send(event ScoreEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("error marshaling score event", slog.Any("error", err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicScoreEvents,
		Key:   sarama.StringEncoder(event.Game),
		Value: sarama.ByteEncoder(data),
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		slog.Error("error sending score event to Kafka", slog.Any("error", err))
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// IsEnabled returns whether Kafka is enabled
func (p *Producer) IsEnabled() bool {
	return p.enabled
}
