// Package authsignal decides whether the current user appears authenticated
// on a page, gating automatic promotion of a pending consent. The score is a
// sum of independent weighted checks; the weights and threshold live in the
// policy package so the heuristic is data, not scattered constants.
package authsignal

import (
	"regexp"

	"consentry/internal/detect"
	"consentry/internal/policy"
)

// Snapshot is the ephemeral input to one scoring pass. It is consumed
// immediately and discarded, never persisted.
type Snapshot struct {
	// StorageKeys are the page's local-storage key names.
	StorageKeys []string
	// Cookies are the page's cookie names (or whole cookie strings).
	Cookies []string
	// Page is the parsed document.
	Page *detect.Page
}

var (
	authNamePattern = regexp.MustCompile(`(?i)(token|auth|session|user|login|jwt|access)`)
	logoutPattern   = regexp.MustCompile(`(?i)(logout|signout|sign out|log out|sign off|log off)`)
	loginPattern    = regexp.MustCompile(`(?i)(login|signin|sign in|sign up|register|join)`)
	emailPattern    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// Signal is one independent authentication check with its fixed weight.
type Signal struct {
	Name    string
	Weight  int
	Present func(Snapshot) bool
}

// Signals is the full check table. Adding a true signal can only raise the
// score; the natural bound of the table is policy.AuthScoreMax.
var Signals = []Signal{
	{
		Name:   "auth_storage_keys",
		Weight: policy.WeightStorageKeys,
		Present: func(s Snapshot) bool {
			for _, key := range s.StorageKeys {
				if authNamePattern.MatchString(key) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:   "auth_cookies",
		Weight: policy.WeightAuthCookies,
		Present: func(s Snapshot) bool {
			for _, cookie := range s.Cookies {
				if authNamePattern.MatchString(cookie) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:   "profile_elements",
		Weight: policy.WeightProfileElement,
		Present: func(s Snapshot) bool {
			return s.Page != nil && len(s.Page.FindByAttrHints("profile", "user", "account", "avatar")) > 0
		},
	},
	{
		Name:   "logout_control",
		Weight: policy.WeightLogoutControl,
		Present: func(s Snapshot) bool {
			if s.Page == nil {
				return false
			}
			for _, el := range s.Page.Clickables() {
				if logoutPattern.MatchString(el.Text()) {
					return true
				}
			}
			return false
		},
	},
	{
		Name:   "user_content",
		Weight: policy.WeightUserContent,
		Present: func(s Snapshot) bool {
			return s.Page != nil && len(s.Page.FindByAttrHints("welcome", "dashboard", "my")) > 0
		},
	},
	{
		Name:   "no_login_control",
		Weight: policy.WeightNoLoginControl,
		Present: func(s Snapshot) bool {
			if s.Page == nil {
				return false
			}
			for _, el := range s.Page.Clickables() {
				if loginPattern.MatchString(el.Text()) {
					return false
				}
			}
			return true
		},
	},
	{
		Name:   "visible_email",
		Weight: policy.WeightVisibleEmail,
		Present: func(s Snapshot) bool {
			return s.Page != nil && emailPattern.MatchString(s.Page.BodyText())
		},
	},
	{
		Name:   "personalized_content",
		Weight: policy.WeightPersonalized,
		Present: func(s Snapshot) bool {
			return s.Page != nil && len(s.Page.FindByAttrHints("personal", "custom", "preference")) > 0
		},
	},
}

// Score computes the 0..policy.AuthScoreMax authentication score for a
// snapshot.
func Score(snap Snapshot) int {
	score := 0
	for _, signal := range Signals {
		if signal.Present(snap) {
			score += signal.Weight
		}
	}
	if score > policy.AuthScoreMax {
		score = policy.AuthScoreMax
	}
	return score
}

// Authenticated reports whether the snapshot clears the fixed threshold.
func Authenticated(snap Snapshot) bool {
	return Score(snap) >= policy.AuthScoreThreshold
}
