// Package lifecycle implements the consent record state machine and owns
// every transition: issuance, activation, revocation, abandonment, and the
// expiry reminder. All durable state changes flow through here; everything
// around it (bus, scheduler, chain relay, notifications) is a port.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"consentry/internal/bus"
	"consentry/internal/chain"
	"consentry/internal/domain"
	"consentry/internal/events"
	"consentry/internal/notify"
	"consentry/internal/policy"
	"consentry/internal/scheduler"
	"consentry/internal/storage"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consentry_lifecycle_transitions_total",
		Help: "Consent lifecycle transitions applied, by resulting status",
	}, []string{"status"})

	detectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consentry_detections_recorded_total",
		Help: "Consent detections appended to the detection log",
	})

	remindersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consentry_expiry_reminders_sent_total",
		Help: "Expiry reminder notifications delivered",
	})
)

// Deps wires the service to its ports. Events may be nil; everything else is
// required.
type Deps struct {
	Consents   storage.ConsentStore
	Detections storage.DetectionStore
	Settings   storage.SettingsStore
	Tabs       storage.TabMapStore
	Scheduler  scheduler.Scheduler
	Chain      chain.Requester
	Notifier   notify.Notifier
	Events     *events.Publisher
	Logger     *slog.Logger
}

// Service coordinates the consent lifecycle. It is driven by the bus
// dispatcher and by the deadline scheduler, both of which serialize their
// calls; the service itself holds no in-memory record state.
type Service struct {
	consents   storage.ConsentStore
	detections storage.DetectionStore
	settings   storage.SettingsStore
	tabs       storage.TabMapStore
	sched      scheduler.Scheduler
	chain      chain.Requester
	notifier   notify.Notifier
	events     *events.Publisher
	logger     *slog.Logger
	tracer     trace.Tracer

	now func() time.Time
}

func New(deps Deps) *Service {
	return &Service{
		consents:   deps.Consents,
		detections: deps.Detections,
		settings:   deps.Settings,
		tabs:       deps.Tabs,
		sched:      deps.Scheduler,
		chain:      deps.Chain,
		notifier:   deps.Notifier,
		events:     deps.Events,
		logger:     deps.Logger,
		tracer:     otel.Tracer("consentry/internal/lifecycle"),
		now:        time.Now,
	}
}

// RecordDetection appends a detection event to the log. Detections carry no
// durable lifecycle state and are never deduplicated. The auto-detection
// setting gates scan triggering on the observer side, not recording: a
// detection that reaches the coordinator is always stored.
func (s *Service) RecordDetection(ctx context.Context, msg bus.ConsentDetected) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.RecordDetection")
	defer span.End()

	when := msg.Timestamp
	if when.IsZero() {
		when = s.now()
	}
	event := domain.DetectionEvent{
		ID:        uuid.NewString(),
		Timestamp: when,
		URL:       msg.URL,
		TabID:     msg.TabID,
		Data:      msg.Data,
		Client:    msg.Client,
		Status:    domain.DetectionStatus,
	}
	if err := s.detections.AppendDetection(ctx, event); err != nil {
		return fmt.Errorf("appending detection: %w", err)
	}
	detectionsTotal.Inc()

	s.notifyIfEnabled(ctx, notify.Detected(msg.Data.SiteName))
	return nil
}

// IssueConsent creates a Pending record for a freshly minted token and arms
// its abandonment deadline. A token id already present in the collection is
// rejected rather than overwritten.
func (s *Service) IssueConsent(ctx context.Context, msg bus.ConsentIssued) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.IssueConsent",
		trace.WithAttributes(attribute.String("consent.token_id", msg.TokenID)))
	defer span.End()

	records, err := s.consents.LoadConsents(ctx)
	if err != nil {
		return fmt.Errorf("loading consents: %w", err)
	}
	if _, idx := storage.FindConsent(records, msg.TokenID); idx >= 0 {
		return fmt.Errorf("issuing token %s: %w", msg.TokenID, storage.ErrDuplicateToken)
	}

	record := domain.ConsentRecord{
		TokenID:          msg.TokenID,
		SiteName:         msg.SiteName,
		Purpose:          msg.Purpose,
		DataTypes:        msg.DataTypes,
		PrivacyPolicyURL: msg.PrivacyPolicyURL,
		RecipientAddress: msg.RecipientAddress,
		Status:           domain.StatusPending,
		ExpiryDate:       msg.ExpiryDate,
		IssuedAt:         s.now(),
		TabID:            msg.TabID,
	}
	if err := s.consents.SaveConsents(ctx, append(records, record)); err != nil {
		return fmt.Errorf("saving consents: %w", err)
	}
	transitionsTotal.WithLabelValues(string(domain.StatusPending)).Inc()

	if err := s.tabs.SetTab(ctx, msg.TokenID, msg.TabID); err != nil {
		s.logger.Error("failed to record issuing tab", "tokenId", msg.TokenID, "error", err)
	}
	if err := s.sched.ScheduleIn(ctx, scheduler.Name(scheduler.KindAbandon, msg.TokenID), policy.AbandonTimeout); err != nil {
		s.logger.Error("failed to arm abandonment deadline", "tokenId", msg.TokenID, "error", err)
	}

	s.events.Publish(ctx, events.Transition{
		TokenID:    msg.TokenID,
		SiteName:   msg.SiteName,
		To:         domain.StatusPending,
		OccurredAt: record.IssuedAt,
	})
	s.notifyIfEnabled(ctx, notify.Issued(msg.SiteName))
	return nil
}

// ActivateConsent moves a Pending record to Active, disarms the abandonment
// deadline, and arms the expiry reminder when the token has a future expiry.
func (s *Service) ActivateConsent(ctx context.Context, tokenID string) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.ActivateConsent",
		trace.WithAttributes(attribute.String("consent.token_id", tokenID)))
	defer span.End()

	records, err := s.consents.LoadConsents(ctx)
	if err != nil {
		return fmt.Errorf("loading consents: %w", err)
	}
	record, idx := storage.FindConsent(records, tokenID)
	if idx < 0 {
		return fmt.Errorf("activating token %s: %w", tokenID, storage.ErrNotFound)
	}
	if !domain.CanTransition(record.Status, domain.StatusActive) {
		s.logger.Warn("ignoring activation for non-pending record",
			"tokenId", tokenID, "status", record.Status)
		return nil
	}

	now := s.now()
	record.Status = domain.StatusActive
	record.ActivatedAt = &now
	records[idx] = record
	if err := s.consents.SaveConsents(ctx, records); err != nil {
		return fmt.Errorf("saving consents: %w", err)
	}
	transitionsTotal.WithLabelValues(string(domain.StatusActive)).Inc()

	if err := s.sched.Cancel(ctx, scheduler.Name(scheduler.KindAbandon, tokenID)); err != nil {
		s.logger.Error("failed to cancel abandonment deadline", "tokenId", tokenID, "error", err)
	}
	s.armExpiryReminder(ctx, record)
	s.requestChainActivation(ctx, record)

	s.events.Publish(ctx, events.Transition{
		TokenID:    tokenID,
		SiteName:   record.SiteName,
		From:       domain.StatusPending,
		To:         domain.StatusActive,
		OccurredAt: now,
	})
	s.notifyIfEnabled(ctx, notify.Activated(record.SiteName))
	return nil
}

// RevokeConsent records a revocation that already happened on-chain: the
// record moves to Revoked and its reminder deadline is disarmed.
func (s *Service) RevokeConsent(ctx context.Context, tokenID string) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.RevokeConsent",
		trace.WithAttributes(attribute.String("consent.token_id", tokenID)))
	defer span.End()

	records, err := s.consents.LoadConsents(ctx)
	if err != nil {
		return fmt.Errorf("loading consents: %w", err)
	}
	record, idx := storage.FindConsent(records, tokenID)
	if idx < 0 {
		return fmt.Errorf("revoking token %s: %w", tokenID, storage.ErrNotFound)
	}
	if !domain.CanTransition(record.Status, domain.StatusRevoked) {
		s.logger.Warn("ignoring revocation for non-active record",
			"tokenId", tokenID, "status", record.Status)
		return nil
	}

	now := s.now()
	record.Status = domain.StatusRevoked
	record.RevokedAt = &now
	records[idx] = record
	if err := s.consents.SaveConsents(ctx, records); err != nil {
		return fmt.Errorf("saving consents: %w", err)
	}
	transitionsTotal.WithLabelValues(string(domain.StatusRevoked)).Inc()

	if err := s.sched.Cancel(ctx, scheduler.Name(scheduler.KindExpiry, tokenID)); err != nil {
		s.logger.Error("failed to cancel expiry reminder", "tokenId", tokenID, "error", err)
	}
	if err := s.tabs.DeleteTab(ctx, tokenID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("failed to drop tab mapping", "tokenId", tokenID, "error", err)
	}

	s.events.Publish(ctx, events.Transition{
		TokenID:    tokenID,
		SiteName:   record.SiteName,
		From:       domain.StatusActive,
		To:         domain.StatusRevoked,
		OccurredAt: now,
	})
	s.notifyIfEnabled(ctx, notify.Revoked(record.SiteName))
	return nil
}

// ListConsents returns the full record collection.
func (s *Service) ListConsents(ctx context.Context) ([]domain.ConsentRecord, error) {
	return s.consents.LoadConsents(ctx)
}

// HandleDeadline is the scheduler callback. The registered deadline carries
// only a name; everything else is re-read from the store so that transitions
// raced between registration and firing turn the deadline into a no-op.
func (s *Service) HandleDeadline(ctx context.Context, kind scheduler.Kind, tokenID string) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.HandleDeadline",
		trace.WithAttributes(
			attribute.String("deadline.kind", string(kind)),
			attribute.String("consent.token_id", tokenID),
		))
	defer span.End()

	switch kind {
	case scheduler.KindAbandon:
		s.handleAbandonment(ctx, tokenID)
	case scheduler.KindExpiry:
		s.handleExpiryReminder(ctx, tokenID)
	default:
		s.logger.Warn("unknown deadline kind", "kind", kind, "tokenId", tokenID)
	}
}

// handleAbandonment fires when a Pending record saw no activation within the
// timeout. Records that moved on in the meantime are left alone.
func (s *Service) handleAbandonment(ctx context.Context, tokenID string) {
	records, err := s.consents.LoadConsents(ctx)
	if err != nil {
		s.logger.Error("abandonment check failed to load consents", "tokenId", tokenID, "error", err)
		return
	}
	record, idx := storage.FindConsent(records, tokenID)
	if idx < 0 || record.Status != domain.StatusPending {
		s.logger.Debug("abandonment deadline is stale", "tokenId", tokenID)
		return
	}

	now := s.now()
	record.Status = domain.StatusAbandoned
	record.AbandonedAt = &now
	records[idx] = record
	if err := s.consents.SaveConsents(ctx, records); err != nil {
		s.logger.Error("failed to persist abandonment", "tokenId", tokenID, "error", err)
		return
	}
	transitionsTotal.WithLabelValues(string(domain.StatusAbandoned)).Inc()

	s.requestChainAbandonment(ctx, tokenID)
	if err := s.tabs.DeleteTab(ctx, tokenID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("failed to drop tab mapping", "tokenId", tokenID, "error", err)
	}

	s.events.Publish(ctx, events.Transition{
		TokenID:    tokenID,
		SiteName:   record.SiteName,
		From:       domain.StatusPending,
		To:         domain.StatusAbandoned,
		OccurredAt: now,
	})
	s.notifyIfEnabled(ctx, notify.Abandoned(record.SiteName))
}

// handleExpiryReminder fires ahead of an Active record's expiry. It changes
// no state; it only reminds, and only while the record is still Active.
func (s *Service) handleExpiryReminder(ctx context.Context, tokenID string) {
	records, err := s.consents.LoadConsents(ctx)
	if err != nil {
		s.logger.Error("expiry reminder failed to load consents", "tokenId", tokenID, "error", err)
		return
	}
	record, idx := storage.FindConsent(records, tokenID)
	if idx < 0 || record.Status != domain.StatusActive {
		s.logger.Debug("expiry reminder is stale", "tokenId", tokenID)
		return
	}

	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		s.logger.Error("expiry reminder failed to load settings", "tokenId", tokenID, "error", err)
		return
	}
	if !settings.ExpiryReminders {
		return
	}
	s.deliver(ctx, notify.ExpiringSoon(record.SiteName))
	remindersTotal.Inc()
}

// armExpiryReminder schedules the reminder one lead interval before expiry.
// Tokens without an expiry date, or whose reminder point has already passed,
// get none.
func (s *Service) armExpiryReminder(ctx context.Context, record domain.ConsentRecord) {
	if record.ExpiryDate.IsZero() {
		return
	}
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		s.logger.Error("failed to load settings for reminder", "tokenId", record.TokenID, "error", err)
		return
	}
	if !settings.ExpiryReminders {
		return
	}
	remindAt := record.ExpiryDate.Add(-policy.ExpiryReminderLead)
	if !remindAt.After(s.now()) {
		return
	}
	if err := s.sched.Schedule(ctx, scheduler.Name(scheduler.KindExpiry, record.TokenID), remindAt); err != nil {
		s.logger.Error("failed to arm expiry reminder", "tokenId", record.TokenID, "error", err)
	}
}

// requestChainActivation relays the activation to the on-chain contract via
// the issuing tab. Relay failures leave the local record authoritative.
func (s *Service) requestChainActivation(ctx context.Context, record domain.ConsentRecord) {
	tabID, err := s.tabs.Tab(ctx, record.TokenID)
	if err != nil {
		s.logger.Warn("no tab mapping for chain activation", "tokenId", record.TokenID, "error", err)
		return
	}
	if err := s.chain.RequestActivation(ctx, tabID, record.TokenID); err != nil {
		s.logger.Error("on-chain activation relay failed", "tokenId", record.TokenID, "error", err)
	}
}

func (s *Service) requestChainAbandonment(ctx context.Context, tokenID string) {
	tabID, err := s.tabs.Tab(ctx, tokenID)
	if err != nil {
		s.logger.Warn("no tab mapping for chain abandonment", "tokenId", tokenID, "error", err)
		return
	}
	if err := s.chain.RequestAbandonment(ctx, tabID, tokenID); err != nil {
		s.logger.Error("on-chain abandonment relay failed", "tokenId", tokenID, "error", err)
	}
}

// notifyIfEnabled delivers a notification unless the user turned them off.
func (s *Service) notifyIfEnabled(ctx context.Context, n notify.Notification) {
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		s.logger.Error("failed to load settings for notification", "title", n.Title, "error", err)
		return
	}
	if !settings.Notifications {
		return
	}
	s.deliver(ctx, n)
}

func (s *Service) deliver(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("notification delivery failed", "title", n.Title, "error", err)
	}
}
