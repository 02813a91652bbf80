package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Agrid-Dev/preheat/internal/heating"
)

var ErrNoBrokers = errors.New("kafka: at least one broker is required")

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events keyed by room id so a room's events stay ordered
// within a partition.
type Kafka struct {
	w       messageWriter
	timeout time.Duration
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		cfg.Topic = "preheat.events"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Kafka{w: w, timeout: cfg.WriteTimeout}, nil
}

func (k *Kafka) Notify(ctx context.Context, e heating.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(e.Room), Value: b, Time: e.Time}); err != nil {
		return fmt.Errorf("kafka: write event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}
