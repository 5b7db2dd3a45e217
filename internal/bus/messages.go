// Package bus defines the observer-to-coordinator message protocol and the
// dispatcher that serializes handling. Messages are fire-and-forget except
// the token listing, which is request/response.
package bus

import (
	"encoding/json"
	"time"

	"consentry/internal/domain"
)

// Message kinds. The set is closed; envelopes carrying anything else are
// ignored by the dispatcher.
const (
	KindConsentDetected  = "consent_detected"
	KindConsentIssued    = "consent_issued"
	KindConsentRevoked   = "consent_revoked"
	KindActivateConsent  = "activate_consent"
	KindGetConsentTokens = "get_consent_tokens"
)

// ConsentDetected reports a consent prompt observed on a page.
type ConsentDetected struct {
	Data      domain.ConsentData `json:"data"`
	URL       string             `json:"url"`
	Timestamp time.Time          `json:"timestamp"`
	TabID     int                `json:"tabId"`
	// Client is filled in at intake from the observer's User-Agent, not
	// by the observer itself.
	Client string `json:"client,omitempty"`
}

// ConsentIssued reports that the user completed the issuance flow for a
// detected consent.
type ConsentIssued struct {
	TokenID          string    `json:"tokenId"`
	SiteName         string    `json:"siteName"`
	Purpose          string    `json:"purpose"`
	DataTypes        []string  `json:"dataTypes"`
	PrivacyPolicyURL string    `json:"privacyPolicyUrl,omitempty"`
	RecipientAddress string    `json:"recipientAddress"`
	ExpiryDate       time.Time `json:"expiryDate,omitempty"`
	TabID            int       `json:"tabId"`
}

// ConsentRevoked asks the coordinator to move an Active record to Revoked.
type ConsentRevoked struct {
	TokenID string `json:"tokenId"`
}

// ActivateConsent reports a positive authentication signal for a pending
// consent's site.
type ActivateConsent struct {
	TokenID string `json:"tokenId"`
	Site    string `json:"site"`
	URL     string `json:"url"`
}

// Envelope is the closed tagged union carried on the wire and on the
// dispatcher's inbox. Exactly one payload field is set for a known kind; all
// stay nil for unknown kinds so the handler switch can ignore them.
type Envelope struct {
	Kind     string
	Detected *ConsentDetected
	Issued   *ConsentIssued
	Revoked  *ConsentRevoked
	Activate *ActivateConsent
	// Reply receives the full record collection for KindGetConsentTokens.
	// In-process only; never serialized.
	Reply chan<- []domain.ConsentRecord
}

type wireEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the envelope as {"kind": ..., "payload": ...}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindConsentDetected:
		payload = e.Detected
	case KindConsentIssued:
		payload = e.Issued
	case KindConsentRevoked:
		payload = e.Revoked
	case KindActivateConsent:
		payload = e.Activate
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Kind: e.Kind, Payload: raw})
}

// UnmarshalJSON decodes a wire envelope. Unknown kinds decode successfully
// with all payload fields nil; malformed payloads for known kinds are an
// error.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*e = Envelope{Kind: wire.Kind}
	if len(wire.Payload) == 0 {
		return nil
	}
	switch wire.Kind {
	case KindConsentDetected:
		e.Detected = &ConsentDetected{}
		return json.Unmarshal(wire.Payload, e.Detected)
	case KindConsentIssued:
		e.Issued = &ConsentIssued{}
		return json.Unmarshal(wire.Payload, e.Issued)
	case KindConsentRevoked:
		e.Revoked = &ConsentRevoked{}
		return json.Unmarshal(wire.Payload, e.Revoked)
	case KindActivateConsent:
		e.Activate = &ActivateConsent{}
		return json.Unmarshal(wire.Payload, e.Activate)
	}
	return nil
}
