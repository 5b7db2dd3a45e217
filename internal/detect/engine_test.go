package detect

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consentry/internal/domain"
)

const bannerPage = `<!DOCTYPE html>
<html>
<head><title>Foo - Bar</title></head>
<body>
  <h1>Baz</h1>
  <p>We use cookies and analytics to improve your experience. Your email and preferences matter.</p>
  <div class="cookie-banner">
    <p>This site uses cookies.</p>
    <button id="accept">Accept all cookies</button>
  </div>
  <a href="/legal/privacy">Privacy Policy</a>
</body>
</html>`

func mustParse(t *testing.T, pageURL, markup string) *Page {
	t.Helper()
	page, err := ParsePage(pageURL, markup)
	require.NoError(t, err)
	return page
}

func TestSweepFindsConsentButton(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://www.example.com/home", bannerPage)

	detections := engine.Sweep(page)
	require.NotEmpty(t, detections)

	data := detections[0].Data
	assert.Equal(t, "Foo", data.SiteName)
	assert.Equal(t, "https://www.example.com/legal/privacy", data.PrivacyPolicyURL)
	assert.Contains(t, data.DataTypes, "cookies")
	assert.Contains(t, data.DataTypes, "analytics")
	assert.Equal(t, "Cookie usage and website functionality", data.Purpose)
	assert.Equal(t, domain.ZeroAddress, data.RecipientAddress)
	assert.NotEmpty(t, data.Excerpt)
}

func TestSweepDoesNotDeduplicate(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com", bannerPage)

	first := engine.Sweep(page)
	second := engine.Sweep(page)
	assert.Equal(t, len(first), len(second), "an unchanged page reports the same prompts on every sweep")
	assert.NotEmpty(t, first)
}

func TestSiteNamePrecedence(t *testing.T) {
	engine := NewEngine()

	// Title beats heading.
	page := mustParse(t, "https://www.example.com", bannerPage)
	assert.Equal(t, "Foo", engine.extractSiteName(page))

	// Heading beats hostname.
	page = mustParse(t, "https://www.example.com",
		`<html><head></head><body><h1>Baz</h1></body></html>`)
	assert.Equal(t, "Baz", engine.extractSiteName(page))

	// Hostname fallback strips www.
	page = mustParse(t, "https://www.example.com",
		`<html><head></head><body><p>nothing</p></body></html>`)
	assert.Equal(t, "example.com", engine.extractSiteName(page))
}

func TestTitlePipeSeparator(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com",
		`<html><head><title>Shop | Checkout</title></head><body></body></html>`)
	assert.Equal(t, "Shop", engine.extractSiteName(page))
}

func TestHiddenOverlayIgnored(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com", `<html><body>
		<div class="consent-modal" style="display: none">
			<p>We need your consent for data processing.</p>
		</div>
	</body></html>`)

	assert.Empty(t, engine.Sweep(page))
}

func TestVisibleOverlayMatches(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com", `<html><body>
		<div class="consent-modal">
			<p>By continuing you consent to the processing of your data.</p>
		</div>
	</body></html>`)

	detections := engine.Sweep(page)
	require.Len(t, detections, 1)
}

func TestInputValueLabelMatches(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com", `<html><body>
		<form><input type="submit" value="I accept the terms"></form>
	</body></html>`)

	detections := engine.Sweep(page)
	require.Len(t, detections, 1)
}

func TestDataTypesFallback(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com",
		`<html><body><button>I accept</button></body></html>`)

	data := engine.Extract(page, page.Clickables()[0])
	assert.Equal(t, []string{"general usage data"}, data.DataTypes)
}

func TestRecipientAddressFound(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com", `<html><body>
		<p>Send consent tokens to 0xAbCdEf0123456789abcdef0123456789ABCDEF01.</p>
		<button>Accept cookies</button>
	</body></html>`)

	data := engine.Extract(page, page.Clickables()[0])
	assert.Equal(t, "0xAbCdEf0123456789abcdef0123456789ABCDEF01", data.RecipientAddress)
}

func TestPurposeFallback(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com",
		`<html><head><title>Acme</title></head><body><div><button>I accept</button></div></body></html>`)

	data := engine.Extract(page, page.Clickables()[0])
	assert.Equal(t, "General usage consent for Acme", data.Purpose)
}

func TestScanFragment(t *testing.T) {
	engine := NewEngine()
	page := mustParse(t, "https://example.com",
		`<html><head><title>Acme</title></head><body></body></html>`)

	detection, ok := engine.ScanFragment(page, `<div class="cookie-popup">Allow cookies?<button>Accept all</button></div>`)
	require.True(t, ok)
	assert.Equal(t, "Acme", detection.Data.SiteName)

	_, ok = engine.ScanFragment(page, `<div>just a paragraph</div>`)
	assert.False(t, ok)
}

func TestExcerptTruncated(t *testing.T) {
	engine := NewEngine()
	long := strings.Repeat("x", 2000)
	page := mustParse(t, "https://example.com",
		`<html><body><button data-blob="`+long+`">I accept</button></body></html>`)

	data := engine.Extract(page, page.Clickables()[0])
	assert.LessOrEqual(t, len(data.Excerpt), 500)
}

func TestExcerptNeverSplitsRune(t *testing.T) {
	engine := NewEngine()
	long := strings.Repeat("ü", 600)
	page := mustParse(t, "https://example.com",
		`<html><body><button data-blob="`+long+`">I accept</button></body></html>`)

	data := engine.Extract(page, page.Clickables()[0])
	assert.LessOrEqual(t, len(data.Excerpt), 500)
	assert.True(t, utf8.ValidString(data.Excerpt))
}
