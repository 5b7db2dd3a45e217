// Package events records consent lifecycle transitions on the event trail.
// The trail is an audit artifact: publishing is best effort and a publish
// failure never rolls back the transition it describes.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"consentry/internal/domain"
	"consentry/internal/platform/kafka"
)

const Topic = "consent.lifecycle"

// Transition is the wire form of one lifecycle change. From is empty for
// the initial issuance.
type Transition struct {
	TokenID    string        `json:"tokenId"`
	SiteName   string        `json:"siteName"`
	From       domain.Status `json:"from,omitempty"`
	To         domain.Status `json:"to"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Publisher emits transitions to the trail. A nil *Publisher is valid and
// publishes nothing, so callers need no guard when the trail is not
// configured.
type Publisher struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

func NewPublisher(producer *kafka.Producer, logger *slog.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, t Transition) {
	if p == nil || p.producer == nil {
		return
	}
	value, err := json.Marshal(t)
	if err != nil {
		p.logger.Error("failed to encode lifecycle transition", "tokenId", t.TokenID, "error", err)
		return
	}
	p.producer.Produce(ctx, Topic, []byte(t.TokenID), value)
}
