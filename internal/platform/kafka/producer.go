// Package kafka wraps the franz-go client behind the small surface the
// coordinator needs: an async producer with delivery-failure logging.
package kafka

import (
	"context"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes records asynchronously. Delivery failures are logged,
// never returned to the caller.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

type ProducerConfig struct {
	Brokers []string
	// ClientID identifies this producer to the brokers.
	ClientID string
}

func NewProducer(cfg ProducerConfig, logger *slog.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce enqueues a record. The call returns immediately; the delivery
// callback only logs.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka delivery failed",
				"topic", r.Topic,
				"key", string(r.Key),
				"error", err,
			)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *Producer) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}
