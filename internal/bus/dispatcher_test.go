package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentry/internal/domain"
)

type recordingCoordinator struct {
	mu         sync.Mutex
	detected   []ConsentDetected
	issued     []ConsentIssued
	activated  []string
	revoked    []string
	listResult []domain.ConsentRecord
	failIssue  bool
}

func (r *recordingCoordinator) RecordDetection(_ context.Context, msg ConsentDetected) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detected = append(r.detected, msg)
	return nil
}

func (r *recordingCoordinator) IssueConsent(_ context.Context, msg ConsentIssued) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failIssue {
		return errors.New("store unavailable")
	}
	r.issued = append(r.issued, msg)
	return nil
}

func (r *recordingCoordinator) ActivateConsent(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = append(r.activated, tokenID)
	return nil
}

func (r *recordingCoordinator) RevokeConsent(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, tokenID)
	return nil
}

func (r *recordingCoordinator) ListConsents(_ context.Context) ([]domain.ConsentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listResult, nil
}

func runDispatcher(t *testing.T, coord Coordinator) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(coord, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Run(ctx) }()
	return d
}

func TestDispatcherRoutesKnownKinds(t *testing.T) {
	coord := &recordingCoordinator{}
	d := runDispatcher(t, coord)
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:     KindConsentDetected,
		Detected: &ConsentDetected{URL: "https://example.com", TabID: 3},
	}))
	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:   KindConsentIssued,
		Issued: &ConsentIssued{TokenID: "7", SiteName: "example.com", TabID: 3},
	}))
	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:     KindActivateConsent,
		Activate: &ActivateConsent{TokenID: "7", Site: "example.com"},
	}))
	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:    KindConsentRevoked,
		Revoked: &ConsentRevoked{TokenID: "7"},
	}))

	assert.Eventually(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return len(coord.detected) == 1 && len(coord.issued) == 1 &&
			len(coord.activated) == 1 && len(coord.revoked) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherIgnoresUnknownKind(t *testing.T) {
	coord := &recordingCoordinator{}
	d := runDispatcher(t, coord)
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, Envelope{Kind: "schedule_expiry_reminder"}))
	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:    KindConsentRevoked,
		Revoked: &ConsentRevoked{TokenID: "1"},
	}))

	assert.Eventually(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return len(coord.revoked) == 1
	}, 2*time.Second, 10*time.Millisecond)
	coord.mu.Lock()
	defer coord.mu.Unlock()
	assert.Empty(t, coord.detected)
	assert.Empty(t, coord.issued)
}

func TestDispatcherHandlerFailureDoesNotStopLoop(t *testing.T) {
	coord := &recordingCoordinator{failIssue: true}
	d := runDispatcher(t, coord)
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:   KindConsentIssued,
		Issued: &ConsentIssued{TokenID: "1"},
	}))
	require.NoError(t, d.Submit(ctx, Envelope{
		Kind:     KindActivateConsent,
		Activate: &ActivateConsent{TokenID: "1"},
	}))

	assert.Eventually(t, func() bool {
		coord.mu.Lock()
		defer coord.mu.Unlock()
		return len(coord.activated) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherListConsentsRequestResponse(t *testing.T) {
	coord := &recordingCoordinator{
		listResult: []domain.ConsentRecord{{TokenID: "9", Status: domain.StatusActive}},
	}
	d := runDispatcher(t, coord)

	reply := make(chan []domain.ConsentRecord, 1)
	require.NoError(t, d.Submit(context.Background(), Envelope{
		Kind:  KindGetConsentTokens,
		Reply: reply,
	}))

	select {
	case records := <-reply:
		require.Len(t, records, 1)
		assert.Equal(t, "9", records[0].TokenID)
	case <-time.After(2 * time.Second):
		t.Fatal("no reply to token listing")
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	env := Envelope{
		Kind: KindConsentIssued,
		Issued: &ConsentIssued{
			TokenID:          "42",
			SiteName:         "example.com",
			Purpose:          "Cookie usage and website functionality",
			DataTypes:        []string{"cookies"},
			RecipientAddress: domain.ZeroAddress,
			TabID:            5,
		},
	}

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotNil(t, decoded.Issued)
	assert.Equal(t, env.Issued.TokenID, decoded.Issued.TokenID)
	assert.Equal(t, env.Issued.DataTypes, decoded.Issued.DataTypes)
}

func TestEnvelopeUnknownKindDecodes(t *testing.T) {
	var decoded Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"mystery","payload":{"x":1}}`), &decoded))
	assert.Equal(t, "mystery", decoded.Kind)
	assert.Nil(t, decoded.Detected)
	assert.Nil(t, decoded.Issued)
	assert.Nil(t, decoded.Revoked)
	assert.Nil(t, decoded.Activate)
}
