package detect

import "regexp"

// Fixed pattern sets. Detection is deliberately not a rule engine: these
// lists are the whole heuristic.
var consentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)accept.*terms`),
	regexp.MustCompile(`(?i)agree.*terms`),
	regexp.MustCompile(`(?i)i\s*accept`),
	regexp.MustCompile(`(?i)accept.*cookies`),
	regexp.MustCompile(`(?i)accept.*privacy`),
	regexp.MustCompile(`(?i)continue.*agree`),
	regexp.MustCompile(`(?i)by\s*continuing`),
	regexp.MustCompile(`(?i)accept.*all`),
	regexp.MustCompile(`(?i)allow.*cookies`),
	regexp.MustCompile(`(?i)consent.*processing`),
	regexp.MustCompile(`(?i)agree.*policy`),
}

var privacyLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)privacy.*policy`),
	regexp.MustCompile(`(?i)terms.*service`),
	regexp.MustCompile(`(?i)terms.*conditions`),
	regexp.MustCompile(`(?i)cookie.*policy`),
	regexp.MustCompile(`(?i)data.*protection`),
	regexp.MustCompile(`(?i)privacy.*notice`),
}

// dataTypeVocabulary is the fixed set of data categories matched as
// substrings of the page text.
var dataTypeVocabulary = []string{
	"email", "name", "location", "cookies", "ip address",
	"device information", "browsing history", "preferences",
	"analytics", "advertising", "personal information",
}

// genericDataType is the fallback when no vocabulary entry appears.
const genericDataType = "general usage data"

// purposeRules map the first matching keyword in the consent container's
// text to a purpose label. Order matters.
var purposeRules = []struct {
	keyword string
	purpose string
}{
	{"cookie", "Cookie usage and website functionality"},
	{"analytics", "Analytics and performance tracking"},
	{"advertising", "Advertising and marketing purposes"},
	{"personalization", "Content personalization"},
}

// recipientAddressPattern matches a 40-hex-digit ledger address.
var recipientAddressPattern = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)

// overlayHints flag containers that look like modals or cookie banners by
// class or id.
var overlayHints = []string{"modal", "popup", "overlay", "consent", "cookie"}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
