package policy

import (
	"strings"
	"time"
)

// Timing constants for the consent lifecycle. These are fixed by design, not
// user-configurable.
var (
	// AbandonTimeout is how long an issued consent may stay Pending before
	// the coordinator marks it Abandoned.
	AbandonTimeout = 10 * time.Minute

	// ExpiryReminderLead is how far before a record's expiry date the
	// reminder deadline fires.
	ExpiryReminderLead = 24 * time.Hour

	// PendingActivationWindow bounds how old the observer's local
	// "last issued consent" pointer may be and still trigger activation.
	PendingActivationWindow = 10 * time.Minute

	// SweepSettleDelay is the pause after page load before the first full
	// sweep, so late-rendering banners are in the tree.
	SweepSettleDelay = 2 * time.Second

	// RescanDelay is the pause before a coordinator-triggered rescan of a
	// freshly loaded page.
	RescanDelay = 3 * time.Second
)

// Auth-signal polling cadence: fast for the first two minutes after page
// load, then slow indefinitely.
var (
	AuthPollFast         = 10 * time.Second
	AuthPollFastDuration = 2 * time.Minute
	AuthPollSlow         = 30 * time.Second
)

// AuthScoreThreshold is the minimum weighted signal score at which the
// current user is considered authenticated.
const AuthScoreThreshold = 4

// Auth signal weights. The score is the sum of the weights of all signals
// present, naturally bounded by AuthScoreMax.
const (
	WeightStorageKeys    = 3
	WeightAuthCookies    = 2
	WeightProfileElement = 2
	WeightLogoutControl  = 3
	WeightUserContent    = 1
	WeightNoLoginControl = 1
	WeightVisibleEmail   = 1
	WeightPersonalized   = 1

	AuthScoreMax = 10
)

// DetectionExcerptLimit truncates the matched element's markup before it is
// stored with a detection event.
const DetectionExcerptLimit = 500

// DetectionWindowDefault caps how many detection events list calls return by
// default. The underlying log is never pruned by the coordinator.
const DetectionWindowDefault = 50

// SkipURLPrefixes are page URLs the coordinator never asks an observer to
// scan: internal browser schemes and the wallet app itself.
var SkipURLPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"moz-extension://",
	"about:",
	"http://localhost:5173",
}

// ShouldScan reports whether auto-detection applies to the given URL.
func ShouldScan(url string) bool {
	for _, prefix := range SkipURLPrefixes {
		if strings.HasPrefix(url, prefix) {
			return false
		}
	}
	return true
}
