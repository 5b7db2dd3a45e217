package bus

import (
	"context"
	"log/slog"

	"consentry/internal/domain"
)

// Coordinator is the lifecycle surface the dispatcher drives. All operations
// except ListConsents are fire-and-forget from the sender's point of view;
// errors are logged here and never propagate back.
type Coordinator interface {
	RecordDetection(ctx context.Context, msg ConsentDetected) error
	IssueConsent(ctx context.Context, msg ConsentIssued) error
	ActivateConsent(ctx context.Context, tokenID string) error
	RevokeConsent(ctx context.Context, tokenID string) error
	ListConsents(ctx context.Context) ([]domain.ConsentRecord, error)
}

// Dispatcher serializes message handling: every observer may submit
// concurrently, but handler invocations run one at a time on a single
// worker, matching the coordinator's event-loop model.
type Dispatcher struct {
	inbox  chan Envelope
	coord  Coordinator
	logger *slog.Logger
}

func NewDispatcher(coord Coordinator, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		inbox:  make(chan Envelope, 64),
		coord:  coord,
		logger: logger,
	}
}

// Submit queues an envelope for handling. It blocks only when the inbox is
// full, and gives up when the context ends.
func (d *Dispatcher) Submit(ctx context.Context, env Envelope) error {
	select {
	case d.inbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the inbox until the context ends. A failing handler never
// stops the loop or blocks subsequent messages.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-d.inbox:
			d.handle(ctx, env)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, env Envelope) {
	var err error
	switch {
	case env.Kind == KindConsentDetected && env.Detected != nil:
		err = d.coord.RecordDetection(ctx, *env.Detected)
	case env.Kind == KindConsentIssued && env.Issued != nil:
		err = d.coord.IssueConsent(ctx, *env.Issued)
	case env.Kind == KindConsentRevoked && env.Revoked != nil:
		err = d.coord.RevokeConsent(ctx, env.Revoked.TokenID)
	case env.Kind == KindActivateConsent && env.Activate != nil:
		err = d.coord.ActivateConsent(ctx, env.Activate.TokenID)
	case env.Kind == KindGetConsentTokens && env.Reply != nil:
		records, listErr := d.coord.ListConsents(ctx)
		if listErr != nil {
			d.logger.Error("list consents failed", "error", listErr)
			records = nil
		}
		env.Reply <- records
	default:
		// Unmatched kinds and kind/payload mismatches are ignored.
		d.logger.Debug("ignoring message", "kind", env.Kind)
	}
	if err != nil {
		d.logger.Error("message handling failed", "kind", env.Kind, "error", err)
	}
}
