package detect

import (
	"strings"
	"unicode/utf8"

	"consentry/internal/domain"
	"consentry/internal/policy"
)

// Extract assembles structured consent data for a matched element, applying
// the fixed precedence rules for each field.
func (e *Engine) Extract(page *Page, el Element) domain.ConsentData {
	site := e.extractSiteName(page)
	return domain.ConsentData{
		SiteName:         site,
		Purpose:          e.extractPurpose(page, el, site),
		DataTypes:        e.extractDataTypes(page),
		PrivacyPolicyURL: e.extractPrivacyPolicyURL(page),
		RecipientAddress: e.extractRecipientAddress(page),
		Excerpt:          truncate(el.Markup(), policy.DetectionExcerptLimit),
	}
}

// extractSiteName: page title before any " - " / " | " separator, else the
// first heading, else the hostname without "www.".
func (e *Engine) extractSiteName(page *Page) string {
	if title := page.Title(); title != "" {
		title = strings.SplitN(title, " - ", 2)[0]
		title = strings.SplitN(title, " | ", 2)[0]
		return strings.TrimSpace(title)
	}
	if heading := page.FirstHeading(); heading != "" {
		return strings.TrimSpace(heading)
	}
	return page.Hostname()
}

// extractPrivacyPolicyURL: the first link whose text or href matches a
// privacy-link pattern.
func (e *Engine) extractPrivacyPolicyURL(page *Page) string {
	for _, link := range page.Links() {
		href := link.Attr("href")
		if matchesAny(link.Text(), privacyLinkPatterns) || matchesAny(href, privacyLinkPatterns) {
			return page.ResolveURL(href)
		}
	}
	return ""
}

// extractDataTypes: the fixed vocabulary intersected with the page text,
// falling back to the generic category.
func (e *Engine) extractDataTypes(page *Page) []string {
	text := strings.ToLower(page.BodyText())
	var found []string
	for _, dataType := range dataTypeVocabulary {
		if strings.Contains(text, dataType) {
			found = append(found, dataType)
		}
	}
	if len(found) == 0 {
		return []string{genericDataType}
	}
	return found
}

// extractPurpose: first matching keyword rule against the nearest
// modal/consent container's text, else a generic per-site fallback.
func (e *Engine) extractPurpose(page *Page, el Element, site string) string {
	text := strings.ToLower(el.closestOverlay().Text())
	for _, rule := range purposeRules {
		if strings.Contains(text, rule.keyword) {
			return rule.purpose
		}
	}
	return "General usage consent for " + site
}

// extractRecipientAddress: the first ledger address on the page, else the
// zero-address sentinel.
func (e *Engine) extractRecipientAddress(page *Page) string {
	if match := recipientAddressPattern.FindString(page.BodyText()); match != "" {
		return match
	}
	return domain.ZeroAddress
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
