package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racingrun/backend/internal/config"
	"github.com/racingrun/backend/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() domain.ScoreEvent {
	return domain.ScoreEvent{
		ScoreID:   "score-1",
		UserID:    "user-1",
		GameMode:  "endless",
		Score:     1800,
		Distance:  350,
		Rank:      2,
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestProducer_PublishScore(t *testing.T) {
	cfg := &config.KafkaConfig{Topic: "racingrun-scores"}
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "racingrun-scores" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "endless" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event domain.ScoreEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.ScoreID != "score-1" || event.Rank != 2 {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	p := NewProducerWithClient(cfg, mock, discardLogger())
	require.NoError(t, p.PublishScore(context.Background(), sampleEvent()))
	require.NoError(t, p.Close())
}

func TestProducer_PublishScoreFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWithClient(&config.KafkaConfig{Topic: "scores"}, mock, discardLogger())
	err := p.PublishScore(context.Background(), sampleEvent())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_CancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerWithClient(&config.KafkaConfig{Topic: "scores"}, mock, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishScore(ctx, sampleEvent()), context.Canceled)
	require.NoError(t, p.Close())
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.ScoreEvent
	err    error
}

func (h *recordingHandler) HandleScoreEvent(_ context.Context, event domain.ScoreEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func TestConsumer_Process(t *testing.T) {
	handler := &recordingHandler{}
	c := &Consumer{config: &config.KafkaConfig{Topic: "scores"}, handler: handler, logger: discardLogger()}
	ctx := context.Background()

	valid, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	c.process(ctx, &sarama.ConsumerMessage{Value: valid})

	c.process(ctx, &sarama.ConsumerMessage{Value: []byte("{broken")})
	c.process(ctx, &sarama.ConsumerMessage{Value: []byte(`{"score_id":"","game_mode":"endless"}`)})
	c.process(ctx, &sarama.ConsumerMessage{Value: []byte(`{"score_id":"x","game_mode":""}`)})

	require.Len(t, handler.events, 1)
	assert.Equal(t, sampleEvent(), handler.events[0])

	// Handler errors are logged, not propagated
	handler.err = errors.New("hub stopped")
	c.process(ctx, &sarama.ConsumerMessage{Value: valid})
	assert.Len(t, handler.events, 2)
}
