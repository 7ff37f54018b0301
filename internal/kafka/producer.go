package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

// Producer publishes recorded scores to the score topic so every server
// instance can relay them to its WebSocket subscribers
type Producer struct {
	config   *config.KafkaConfig
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewProducer creates a synchronous producer for the configured brokers
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return NewProducerWithClient(cfg, producer, logger), nil
}

// NewProducerWithClient wraps an existing sarama producer
func NewProducerWithClient(cfg *config.KafkaConfig, producer sarama.SyncProducer, logger *slog.Logger) *Producer {
	return &Producer{
		config:   cfg,
		producer: producer,
		logger:   logger,
	}
}

// PublishScore sends the event keyed by game mode, so events of one mode
// stay ordered within a partition
func (p *Producer) PublishScore(ctx context.Context, event domain.ScoreEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling score event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.config.Topic,
		Key:       sarama.StringEncoder(event.GameMode),
		Value:     sarama.ByteEncoder(data),
		Timestamp: event.Timestamp,
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publishing score event: %w", err)
	}

	p.logger.Debug("published score event",
		"score_id", event.ScoreID,
		"game_mode", event.GameMode,
		"partition", partition,
		"offset", offset,
		"duration", time.Since(start),
	)
	return nil
}

// Close flushes and closes the underlying producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
