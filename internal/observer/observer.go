// Package observer is the per-page runtime: it sweeps the page for consent
// prompts, watches tree mutations, polls authentication signals on the fixed
// cadence, and correlates its own issued consent back to a login on the same
// site. One Observer exists per browsed page; durable state lives with the
// coordinator, the observer keeps only the "last issued consent" pointer.
package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"consentry/internal/authsignal"
	"consentry/internal/bus"
	"consentry/internal/detect"
	"consentry/internal/domain"
	"consentry/internal/handoff"
	"consentry/internal/policy"
)

// Sender delivers envelopes to the coordinator. Fire-and-forget: the
// observer logs failures and moves on.
type Sender interface {
	Send(ctx context.Context, env bus.Envelope) error
}

// Prompter renders the local confirmation prompt for a detection and reports
// whether the user approved. Dismissal is silent.
type Prompter interface {
	Prompt(ctx context.Context, data domain.ConsentData) bool
}

// Navigator opens the issuance hand-off URL in the current browsing context.
type Navigator interface {
	Open(url string) error
}

type pendingConsent struct {
	tokenID  string
	site     string
	issuedAt time.Time
}

// Observer drives detection and auth scoring for one page.
type Observer struct {
	engine    *detect.Engine
	sender    Sender
	prompter  Prompter
	navigator Navigator
	issueBase string
	tabID     int
	logger    *slog.Logger

	mu      sync.Mutex
	pending *pendingConsent

	now         func() time.Time
	rescanDelay time.Duration
}

type Config struct {
	Sender    Sender
	Prompter  Prompter
	Navigator Navigator
	// IssueBase is the issuance app URL the hand-off query string is
	// appended to.
	IssueBase string
	TabID     int
	Logger    *slog.Logger
}

func New(cfg Config) *Observer {
	return &Observer{
		engine:      detect.NewEngine(),
		sender:      cfg.Sender,
		prompter:    cfg.Prompter,
		navigator:   cfg.Navigator,
		issueBase:   cfg.IssueBase,
		tabID:       cfg.TabID,
		logger:      cfg.Logger,
		now:         time.Now,
		rescanDelay: policy.RescanDelay,
	}
}

// Sweep performs a full-page scan and reports every match. Detection is not
// deduplicated; calling Sweep twice on an unchanged page reports twice.
func (o *Observer) Sweep(ctx context.Context, page *detect.Page) {
	for _, detection := range o.engine.Sweep(page) {
		o.report(ctx, page, detection)
	}
}

// SweepAfterSettle waits the page-load settle delay, then sweeps. Banners
// rendered by late scripts are in the tree by then.
func (o *Observer) SweepAfterSettle(ctx context.Context, page *detect.Page) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(policy.SweepSettleDelay):
		o.Sweep(ctx, page)
	}
}

// RescanAfterReturn sweeps again shortly after the page regains focus from
// the issuance flow, catching prompts the flow may have altered.
func (o *Observer) RescanAfterReturn(ctx context.Context, page *detect.Page) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(o.rescanDelay):
		o.Sweep(ctx, page)
	}
}

// OnMutation scans a newly inserted subtree.
func (o *Observer) OnMutation(ctx context.Context, page *detect.Page, fragment string) {
	if detection, ok := o.engine.ScanFragment(page, fragment); ok {
		o.report(ctx, page, detection)
	}
}

func (o *Observer) report(ctx context.Context, page *detect.Page, detection detect.Detection) {
	env := bus.Envelope{
		Kind: bus.KindConsentDetected,
		Detected: &bus.ConsentDetected{
			Data:      detection.Data,
			URL:       page.URL.String(),
			Timestamp: o.now(),
			TabID:     o.tabID,
		},
	}
	if err := o.sender.Send(ctx, env); err != nil {
		o.logger.Error("failed to report detection", "url", page.URL.String(), "error", err)
	}

	if o.prompter != nil && o.prompter.Prompt(ctx, detection.Data) {
		issueURL := handoff.BuildIssueURL(o.issueBase, detection.Data, page.URL.String())
		if err := o.navigator.Open(issueURL); err != nil {
			o.logger.Error("failed to open issuance flow", "error", err)
		}
	}
}

// RecordIssued notes the consent this page just issued, so a later login on
// the same site can promote it.
func (o *Observer) RecordIssued(tokenID, site string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = &pendingConsent{tokenID: tokenID, site: site, issuedAt: o.now()}
}

// OnAuthSignal scores a snapshot and, on a positive result, activates the
// pending consent for this site. Used by the polling loop and by
// visibility transitions.
func (o *Observer) OnAuthSignal(ctx context.Context, snap authsignal.Snapshot) {
	if !authsignal.Authenticated(snap) {
		return
	}
	o.activatePending(ctx, snap.Page)
}

// OnLoginRequest handles an intercepted login-looking network call. The
// interceptor already judged the request, so no score is needed.
func (o *Observer) OnLoginRequest(ctx context.Context, page *detect.Page) {
	o.activatePending(ctx, page)
}

// activatePending sends ActivateConsent if the local pointer names a consent
// for the current hostname issued within the activation window. The pointer
// is cleared regardless of delivery; no acknowledgment is awaited.
func (o *Observer) activatePending(ctx context.Context, page *detect.Page) {
	if page == nil {
		return
	}
	host := page.Hostname()

	o.mu.Lock()
	pending := o.pending
	if pending == nil {
		o.mu.Unlock()
		return
	}
	if pending.site != host || o.now().Sub(pending.issuedAt) > policy.PendingActivationWindow {
		o.mu.Unlock()
		return
	}
	o.pending = nil
	o.mu.Unlock()

	env := bus.Envelope{
		Kind: bus.KindActivateConsent,
		Activate: &bus.ActivateConsent{
			TokenID: pending.tokenID,
			Site:    host,
			URL:     page.URL.String(),
		},
	}
	if err := o.sender.Send(ctx, env); err != nil {
		o.logger.Error("failed to send activation", "tokenId", pending.tokenID, "error", err)
	}
}

// RunAuthPolling re-evaluates auth signals on the fixed cadence: fast for
// the first stretch after page load, then slow indefinitely. snapshot is
// called for a fresh view of the page each round.
func (o *Observer) RunAuthPolling(ctx context.Context, snapshot func(context.Context) (authsignal.Snapshot, error)) error {
	start := o.now()
	timer := time.NewTimer(policy.AuthPollFast)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			snap, err := snapshot(ctx)
			if err != nil {
				o.logger.Warn("auth snapshot failed", "error", err)
			} else {
				o.OnAuthSignal(ctx, snap)
			}
			delay := policy.AuthPollFast
			if o.now().Sub(start) >= policy.AuthPollFastDuration {
				delay = policy.AuthPollSlow
			}
			timer.Reset(delay)
		}
	}
}
