package domain

import "time"

// ZeroAddress is the recipient sentinel used when no address is found on the
// page.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// ConsentData is the structured form of a consent prompt extracted from a
// page by the detection engine.
type ConsentData struct {
	SiteName         string   `json:"siteName"`
	Purpose          string   `json:"purpose"`
	DataTypes        []string `json:"dataTypes"`
	PrivacyPolicyURL string   `json:"privacyPolicyUrl,omitempty"`
	RecipientAddress string   `json:"recipientAddress"`
	// Excerpt is a truncated snippet of the matched element's markup,
	// kept for display and debugging.
	Excerpt string `json:"excerpt,omitempty"`
}

// DetectionEvent is an append-only log entry noting that a consent prompt was
// observed. It is never mutated after creation. Detections are not
// deduplicated: repeated sweeps over an unchanged page emit repeated events.
type DetectionEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	URL       string      `json:"url"`
	TabID     int         `json:"tabId"`
	Data      ConsentData `json:"consentData"`
	// Client describes the observer's browser, parsed from its
	// User-Agent at intake.
	Client string `json:"client,omitempty"`
	Status string `json:"status"`
}

// DetectionStatus is the only status a detection event ever carries.
const DetectionStatus = "detected"
