// Package publish streams anomalous records to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rewired-gh/procwatch/internal/models"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON payload of one anomaly message.
type Event struct {
	models.AnomalyRecord
	PredictionErrorPct *float64  `json:"prediction_error_pct"`
	PublishedAt        time.Time `json:"published_at"`
}

// Publisher writes anomalies to a Kafka topic, keyed by variable so each
// variable's events stay in order within a partition.
type Publisher struct {
	w     writer
	topic string
	now   func() time.Time
}

// NewPublisher creates a publisher for topic on brokers.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Gzip,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: time.Second,
	}
	return &Publisher{w: w, topic: topic, now: time.Now}, nil
}

// Name identifies the notifier in logs and metrics.
func (p *Publisher) Name() string { return "kafka" }

// Notify publishes one message per anomaly.
func (p *Publisher) Notify(ctx context.Context, anomalies []models.AnomalyRecord) error {
	if len(anomalies) == 0 {
		return nil
	}
	now := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(anomalies))
	for _, r := range anomalies {
		v, err := json.Marshal(newEvent(r, now))
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Variable),
			Value: v,
			Time:  now,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d anomalies to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func newEvent(r models.AnomalyRecord, now time.Time) Event {
	e := Event{AnomalyRecord: r, PublishedAt: now}
	if r.ErrorPctDefined() {
		pct := r.PredictionErrorPct
		e.PredictionErrorPct = &pct
	}
	return e
}
