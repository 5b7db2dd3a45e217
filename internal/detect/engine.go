// Package detect finds consent-prompt UI in page snapshots and turns it into
// structured consent data. Scanning is read-only and never deduplicates:
// the same prompt may be reported on every sweep.
package detect

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"consentry/internal/domain"
)

// Detection pairs a matched element with the consent data extracted around
// it.
type Detection struct {
	Element Element
	Data    domain.ConsentData
}

// Engine holds the fixed pattern sets. It is stateless and safe for
// concurrent use.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Sweep inspects all clickable elements and all overlay-like containers of
// the page. A clickable matches on its label text; an overlay matches only
// when it is actually rendered.
func (e *Engine) Sweep(page *Page) []Detection {
	var detections []Detection

	for _, el := range page.Clickables() {
		label := el.Text()
		if label == "" {
			label = el.Attr("value")
		}
		if matchesAny(label, consentPatterns) {
			detections = append(detections, Detection{Element: el, Data: e.Extract(page, el)})
		}
	}

	for _, el := range page.Overlays() {
		if !el.Visible() {
			continue
		}
		if matchesAny(el.Text(), consentPatterns) {
			detections = append(detections, Detection{Element: el, Data: e.Extract(page, el)})
		}
	}

	return detections
}

// ScanFragment checks a newly inserted subtree (a tree mutation) for consent
// content, extracting against the full page context on a match.
func (e *Engine) ScanFragment(page *Page, markup string) (Detection, bool) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return Detection{}, false
	}
	for _, n := range nodes {
		el := Element{node: n}
		if matchesAny(el.Text(), consentPatterns) {
			return Detection{Element: el, Data: e.Extract(page, el)}, true
		}
	}
	return Detection{}, false
}
