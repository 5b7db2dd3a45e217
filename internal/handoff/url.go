// Package handoff builds the URL that carries extracted consent data into
// the external issuance flow. The issuance app itself is out of scope; the
// query-string contract is the whole interface.
package handoff

import (
	"net/url"
	"strings"

	"consentry/internal/domain"
)

// BuildIssueURL composes the issuance hand-off URL. pageURL doubles as the
// autofilled website field and the source/return address for the redirect
// back after completion.
func BuildIssueURL(issueBase string, data domain.ConsentData, pageURL string) string {
	privacyURL := data.PrivacyPolicyURL
	if privacyURL == "" {
		privacyURL = pageURL
	}

	params := url.Values{}
	params.Set("to", data.RecipientAddress)
	params.Set("website", pageURL)
	params.Set("purpose", data.Purpose)
	params.Set("fields", strings.Join(data.DataTypes, ","))
	params.Set("privacyUrl", privacyURL)
	params.Set("sourceUrl", pageURL)
	params.Set("returnUrl", pageURL)

	return issueBase + "?" + params.Encode()
}
