package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"consentry/internal/bus"
	"consentry/internal/domain"
	"consentry/internal/notify"
	"consentry/internal/policy"
	"consentry/internal/scheduler"
	"consentry/internal/storage"
)

// fakeScheduler records schedule and cancel calls so tests can fire
// deadlines deterministically through HandleDeadline.
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	canceled  []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (f *fakeScheduler) Schedule(_ context.Context, name string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[name] = at
	return nil
}

func (f *fakeScheduler) ScheduleIn(_ context.Context, name string, delay time.Duration) error {
	return f.Schedule(context.Background(), name, time.Now().Add(delay))
}

func (f *fakeScheduler) Cancel(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, name)
	f.canceled = append(f.canceled, name)
	return nil
}

func (f *fakeScheduler) pending(name string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.scheduled[name]
	return at, ok
}

type chainCall struct {
	action  string
	tabID   int
	tokenID string
}

type recordingChain struct {
	calls []chainCall
}

func (c *recordingChain) RequestActivation(_ context.Context, tabID int, tokenID string) error {
	c.calls = append(c.calls, chainCall{action: "activate", tabID: tabID, tokenID: tokenID})
	return nil
}

func (c *recordingChain) RequestAbandonment(_ context.Context, tabID int, tokenID string) error {
	c.calls = append(c.calls, chainCall{action: "abandon", tabID: tabID, tokenID: tokenID})
	return nil
}

type ServiceSuite struct {
	suite.Suite

	consents *storage.MemoryConsentStore
	settings *storage.MemorySettingsStore
	tabs     *storage.MemoryTabMapStore
	sched    *fakeScheduler
	chain    *recordingChain
	notifier *notify.Recorder
	service  *Service

	now time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.consents = storage.NewMemoryConsentStore()
	s.settings = storage.NewMemorySettingsStore()
	s.tabs = storage.NewMemoryTabMapStore()
	s.sched = newFakeScheduler()
	s.chain = &recordingChain{}
	s.notifier = &notify.Recorder{}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.service = New(Deps{
		Consents:   s.consents,
		Detections: storage.NewMemoryDetectionStore(),
		Settings:   s.settings,
		Tabs:       s.tabs,
		Scheduler:  s.sched,
		Chain:      s.chain,
		Notifier:   s.notifier,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.service.now = func() time.Time { return s.now }
}

func (s *ServiceSuite) issue(tokenID string, expiry time.Time) {
	err := s.service.IssueConsent(context.Background(), bus.ConsentIssued{
		TokenID:          tokenID,
		SiteName:         "Acme",
		Purpose:          "Cookie usage and website functionality",
		DataTypes:        []string{"cookies"},
		RecipientAddress: domain.ZeroAddress,
		ExpiryDate:       expiry,
		TabID:            7,
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) record(tokenID string) domain.ConsentRecord {
	records, err := s.consents.LoadConsents(context.Background())
	s.Require().NoError(err)
	record, idx := storage.FindConsent(records, tokenID)
	s.Require().GreaterOrEqual(idx, 0, "record %s must exist", tokenID)
	return record
}

func (s *ServiceSuite) TestIssueCreatesPendingAndArmsAbandonment() {
	s.issue("7", time.Time{})

	record := s.record("7")
	s.Equal(domain.StatusPending, record.Status)
	s.Equal(s.now, record.IssuedAt)
	s.Nil(record.ActivatedAt)

	_, armed := s.sched.pending(scheduler.Name(scheduler.KindAbandon, "7"))
	s.True(armed)

	tab, err := s.tabs.Tab(context.Background(), "7")
	s.Require().NoError(err)
	s.Equal(7, tab)
}

func (s *ServiceSuite) TestIssueRejectsDuplicateTokenID() {
	s.issue("7", time.Time{})

	err := s.service.IssueConsent(context.Background(), bus.ConsentIssued{TokenID: "7", SiteName: "Other"})
	s.Require().ErrorIs(err, storage.ErrDuplicateToken)

	s.Equal("Acme", s.record("7").SiteName)
}

func (s *ServiceSuite) TestAbandonmentAfterTimeout() {
	s.issue("7", time.Time{})

	s.now = s.now.Add(policy.AbandonTimeout)
	s.service.HandleDeadline(context.Background(), scheduler.KindAbandon, "7")

	record := s.record("7")
	s.Equal(domain.StatusAbandoned, record.Status)
	s.Require().NotNil(record.AbandonedAt)
	s.Equal(s.now, *record.AbandonedAt)

	s.Require().Len(s.chain.calls, 1)
	s.Equal(chainCall{action: "abandon", tabID: 7, tokenID: "7"}, s.chain.calls[0])

	_, err := s.tabs.Tab(context.Background(), "7")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *ServiceSuite) TestActivationDisarmsAbandonment() {
	s.issue("9", time.Time{})

	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	record := s.record("9")
	s.Equal(domain.StatusActive, record.Status)
	s.Require().NotNil(record.ActivatedAt)
	s.Contains(s.sched.canceled, scheduler.Name(scheduler.KindAbandon, "9"))

	// A late abandonment fire finds an Active record and leaves it alone.
	s.service.HandleDeadline(context.Background(), scheduler.KindAbandon, "9")
	s.Equal(domain.StatusActive, s.record("9").Status)
}

func (s *ServiceSuite) TestActivationArmsExpiryReminder() {
	expiry := s.now.Add(30 * 24 * time.Hour)
	s.issue("9", expiry)

	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	at, armed := s.sched.pending(scheduler.Name(scheduler.KindExpiry, "9"))
	s.Require().True(armed)
	s.Equal(expiry.Add(-policy.ExpiryReminderLead), at)
}

func (s *ServiceSuite) TestActivationSkipsReminderWithoutExpiry() {
	s.issue("9", time.Time{})
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	_, armed := s.sched.pending(scheduler.Name(scheduler.KindExpiry, "9"))
	s.False(armed)
}

func (s *ServiceSuite) TestActivationSkipsReminderAlreadyDue() {
	// Expiry within the reminder lead: the reminder point is in the past.
	s.issue("9", s.now.Add(time.Hour))
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	_, armed := s.sched.pending(scheduler.Name(scheduler.KindExpiry, "9"))
	s.False(armed)
}

func (s *ServiceSuite) TestActivationNotifiesUser() {
	s.issue("9", time.Time{})
	sentBefore := len(s.notifier.Sent)

	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	s.Require().Greater(len(s.notifier.Sent), sentBefore)
	last := s.notifier.Sent[len(s.notifier.Sent)-1]
	s.Equal("Consent Activated", last.Title)
	s.Contains(last.Message, "Acme")
}

func (s *ServiceSuite) TestActivationRelaysOnChain() {
	s.issue("9", time.Time{})
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	s.Require().Len(s.chain.calls, 1)
	s.Equal(chainCall{action: "activate", tabID: 7, tokenID: "9"}, s.chain.calls[0])
}

func (s *ServiceSuite) TestActivateUnknownTokenFails() {
	err := s.service.ActivateConsent(context.Background(), "missing")
	s.ErrorIs(err, storage.ErrNotFound)
}

func (s *ServiceSuite) TestActivateTerminalRecordIsNoOp() {
	s.issue("7", time.Time{})
	s.service.HandleDeadline(context.Background(), scheduler.KindAbandon, "7")
	s.Require().Equal(domain.StatusAbandoned, s.record("7").Status)

	s.Require().NoError(s.service.ActivateConsent(context.Background(), "7"))
	s.Equal(domain.StatusAbandoned, s.record("7").Status)
}

func (s *ServiceSuite) TestRevocation() {
	s.issue("9", s.now.Add(30*24*time.Hour))
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	s.Require().NoError(s.service.RevokeConsent(context.Background(), "9"))

	record := s.record("9")
	s.Equal(domain.StatusRevoked, record.Status)
	s.Require().NotNil(record.RevokedAt)
	s.Contains(s.sched.canceled, scheduler.Name(scheduler.KindExpiry, "9"))
}

func (s *ServiceSuite) TestRevokePendingRecordIsNoOp() {
	s.issue("9", time.Time{})

	s.Require().NoError(s.service.RevokeConsent(context.Background(), "9"))
	s.Equal(domain.StatusPending, s.record("9").Status)
}

func (s *ServiceSuite) TestExpiryReminderNotifiesWithoutStateChange() {
	s.issue("9", s.now.Add(48*time.Hour))
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))
	sentBefore := len(s.notifier.Sent)

	s.now = s.now.Add(24 * time.Hour)
	s.service.HandleDeadline(context.Background(), scheduler.KindExpiry, "9")

	s.Equal(domain.StatusActive, s.record("9").Status)
	s.Require().Len(s.notifier.Sent, sentBefore+1)
	reminder := s.notifier.Sent[len(s.notifier.Sent)-1]
	s.Equal("Consent Expiring Soon", reminder.Title)
	s.Equal([]string{"Renew", "Revoke"}, reminder.Buttons)
}

func (s *ServiceSuite) TestExpiryReminderStaleAfterRevocation() {
	s.issue("9", s.now.Add(48*time.Hour))
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))
	s.Require().NoError(s.service.RevokeConsent(context.Background(), "9"))
	sentBefore := len(s.notifier.Sent)

	s.service.HandleDeadline(context.Background(), scheduler.KindExpiry, "9")
	s.Len(s.notifier.Sent, sentBefore)
}

func (s *ServiceSuite) TestNotificationsGatedBySettings() {
	err := s.settings.SaveSettings(context.Background(), domain.Settings{
		AutoDetection:   true,
		Notifications:   false,
		ExpiryReminders: true,
	})
	s.Require().NoError(err)

	s.issue("9", time.Time{})
	s.Empty(s.notifier.Sent)
}

func (s *ServiceSuite) TestExpiredIsDerivedNotStored() {
	expiry := s.now.Add(48 * time.Hour)
	s.issue("9", expiry)
	s.Require().NoError(s.service.ActivateConsent(context.Background(), "9"))

	record := s.record("9")
	s.False(record.IsExpired(s.now))
	s.True(record.IsExpired(expiry.Add(time.Minute)))
	s.Equal(domain.StatusActive, record.Status)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestRecordDetection(t *testing.T) {
	detections := storage.NewMemoryDetectionStore()
	settings := storage.NewMemorySettingsStore()
	notifier := &notify.Recorder{}
	service := New(Deps{
		Consents:   storage.NewMemoryConsentStore(),
		Detections: detections,
		Settings:   settings,
		Tabs:       storage.NewMemoryTabMapStore(),
		Scheduler:  newFakeScheduler(),
		Chain:      &recordingChain{},
		Notifier:   notifier,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	msg := bus.ConsentDetected{
		Data: domain.ConsentData{SiteName: "Acme", DataTypes: []string{"cookies"}},
		URL:  "https://acme.test/home",
	}
	require.NoError(t, service.RecordDetection(context.Background(), msg))
	require.NoError(t, service.RecordDetection(context.Background(), msg))

	events, err := detections.ListDetections(context.Background(), policy.DetectionWindowDefault)
	require.NoError(t, err)
	require.Len(t, events, 2, "detections are not deduplicated")
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, domain.DetectionStatus, events[0].Status)
	assert.NotEmpty(t, notifier.Sent)
}

func TestRecordDetectionStoresRegardlessOfAutoDetection(t *testing.T) {
	// Auto-detection gates scan triggering, not recording: a detection
	// that reached the coordinator is stored even with scanning off.
	detections := storage.NewMemoryDetectionStore()
	settings := storage.NewMemorySettingsStore()
	require.NoError(t, settings.SaveSettings(context.Background(), domain.Settings{
		AutoDetection: false,
		Notifications: true,
	}))

	service := New(Deps{
		Consents:   storage.NewMemoryConsentStore(),
		Detections: detections,
		Settings:   settings,
		Tabs:       storage.NewMemoryTabMapStore(),
		Scheduler:  newFakeScheduler(),
		Chain:      &recordingChain{},
		Notifier:   &notify.Recorder{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, service.RecordDetection(context.Background(), bus.ConsentDetected{
		Data: domain.ConsentData{SiteName: "Acme"},
	}))
	events, err := detections.ListDetections(context.Background(), policy.DetectionWindowDefault)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
