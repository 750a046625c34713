package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/score-server/internal/leaderboard"
)

// Importer replays one historical score through the engine's counter path
type Importer interface {
	ImportScore(ctx context.Context, rec *leaderboard.ImportRecord) error
}

// Consumer drives the bulk import: it consumes historical score records from
// the import topic and replays each through the same aggregate-counter update
// path live ingestion uses.
type Consumer struct {
	consumer sarama.ConsumerGroup
	importer Importer
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConsumer creates the bulk-import consumer group
func NewConsumer(brokers string, importer Importer) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumer, err := sarama.NewConsumerGroup([]string{brokers}, "score-import", config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		consumer: consumer,
		importer: importer,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins consuming import records
func (c *Consumer) Start() {
	go func() {
		for {
			if err := c.consumer.Consume(c.ctx, []string{TopicScoreImport}, c); err != nil {
				slog.Error("import consumer error", slog.Any("error", err))
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
	slog.Info("Kafka import consumer started")
}

// Setup is called at the beginning of a new session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called at the end of a session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a partition. A record that fails to
// import is logged and skipped; the batch keeps going.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		c.processMessage(session.Context(), msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	var rec leaderboard.ImportRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		slog.Error("error unmarshaling import record", slog.Any("error", err))
		return
	}

	if err := c.importer.ImportScore(ctx, &rec); err != nil {
		slog.Error("error importing score",
			slog.String("game", rec.Game),
			slog.String("playername", rec.PlayerName),
			slog.Any("error", err))
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.cancel()
	c.consumer.Close()
}
