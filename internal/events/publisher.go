package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"golang.org/x/exp/slog"
)

// OutcomeEvent is published once per settled handshake.
type OutcomeEvent struct {
	SessionID   string    `json:"session_id"`
	Outcome     string    `json:"outcome"`
	Kind        string    `json:"kind"`
	Payor       string    `json:"payor,omitempty"`
	Reference   string    `json:"reference,omitempty"`
	Amount      int64     `json:"amount"`
	Subject     string    `json:"subject,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	TxnID       string    `json:"txn_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev OutcomeEvent) error
	Close() error
}

// Discard drops every event. Used when no brokers are configured.
type Discard struct{}

func (Discard) Publish(context.Context, OutcomeEvent) error { return nil }
func (Discard) Close() error                                { return nil }

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	retry  RetryConfig
	logger *slog.Logger
}

func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string, retry RetryConfig) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(logger, w, topic, retry)
}

func newKafkaPublisher(logger *slog.Logger, w messageWriter, topic string, retry RetryConfig) *KafkaPublisher {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 5
	}
	if retry.BaseDelay == 0 {
		retry.BaseDelay = 100 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 10 * time.Second
	}
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		retry:  retry,
		logger: logger.With(slog.String("topic", topic)),
	}
}

// Publish writes ev keyed by session id so one session's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, ev OutcomeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling outcome event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "outcome", Value: []byte(ev.Outcome)},
		},
	}
	return p.publishWithRetry(ctx, msg)
}

func (p *KafkaPublisher) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	var lastErr error

	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			if attempt > 0 {
				p.logger.Info("outcome published after retry", slog.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if attempt == p.retry.MaxAttempts-1 {
			break
		}

		delay := p.backoff(attempt)
		p.logger.Warn("publishing outcome",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_in", delay),
			"err", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("publishing to %s after %d attempts: %w", p.topic, p.retry.MaxAttempts, lastErr)
}

func (p *KafkaPublisher) backoff(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * p.retry.BaseDelay
	if delay > p.retry.MaxDelay {
		delay = p.retry.MaxDelay
	}
	if p.retry.Jitter {
		jitter := time.Duration(rand.Float64() * float64(delay) * 0.3)
		delay = delay + jitter - time.Duration(float64(delay)*0.15)
	}
	return delay
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
