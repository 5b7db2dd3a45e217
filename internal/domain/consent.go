package domain

import "time"

// Status tracks a consent record through its lifecycle. Expiry is derived,
// never stored: an Active record past its expiry date is expired.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusActive    Status = "Active"
	StatusRevoked   Status = "Revoked"
	StatusAbandoned Status = "Abandoned"
)

// transitions is the only legal forward movement between statuses. Terminal
// states have no outgoing edges; there is no resurrection.
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusAbandoned},
	StatusActive:  {StatusRevoked},
}

// CanTransition reports whether from may legally move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConsentRecord is the durable representation of one issued consent token.
// Timestamp fields are set exactly once, on the corresponding transition.
type ConsentRecord struct {
	TokenID          string     `json:"tokenId"`
	SiteName         string     `json:"siteName"`
	Purpose          string     `json:"purpose"`
	DataTypes        []string   `json:"dataTypes"`
	PrivacyPolicyURL string     `json:"privacyPolicyUrl,omitempty"`
	RecipientAddress string     `json:"recipientAddress"`
	Status           Status     `json:"status"`
	ExpiryDate       time.Time  `json:"expiryDate,omitempty"`
	IssuedAt         time.Time  `json:"issuedAt"`
	ActivatedAt      *time.Time `json:"activatedAt,omitempty"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	AbandonedAt      *time.Time `json:"abandonedAt,omitempty"`
	TabID            int        `json:"tabId,omitempty"`
}

// IsExpired reports whether an Active record has passed its expiry date.
func (c ConsentRecord) IsExpired(now time.Time) bool {
	return c.Status == StatusActive && !c.ExpiryDate.IsZero() && c.ExpiryDate.Before(now)
}
