package detect

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Page is a parsed snapshot of a document, the read-only surface the
// detection engine and the auth scorer inspect. Scanning never mutates it.
type Page struct {
	URL  *url.URL
	root *html.Node

	bodyText string
}

// ParsePage parses a page snapshot. pageURL must be absolute so relative
// links can be resolved.
func ParsePage(pageURL, markup string) (*Page, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse page markup: %w", err)
	}
	return &Page{URL: u, root: root}, nil
}

// Element wraps a node in the parsed tree.
type Element struct {
	node *html.Node
}

// Attr returns the value of the named attribute, or "".
func (e Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// Text returns the element's visible text, whitespace-collapsed.
func (e Element) Text() string {
	var b strings.Builder
	collectText(e.node, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// Markup renders the element back to HTML, for detection excerpts.
func (e Element) Markup() string {
	var b strings.Builder
	_ = html.Render(&b, e.node)
	return b.String()
}

// Visible reports whether the element is rendered: neither it nor any
// ancestor is hidden via the hidden attribute, inline display:none or
// visibility:hidden, or aria-hidden.
func (e Element) Visible() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		el := Element{node: n}
		if el.Attr("hidden") != "" || el.Attr("aria-hidden") == "true" {
			return false
		}
		style := strings.ReplaceAll(el.Attr("style"), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

// parent returns the enclosing element, if any.
func (e Element) parent() (Element, bool) {
	for n := e.node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode {
			return Element{node: n}, true
		}
	}
	return Element{}, false
}

// closestOverlay walks up from the element looking for a modal-like
// container; it falls back to the direct parent.
func (e Element) closestOverlay() Element {
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		el := Element{node: n}
		if hintMatch(el) {
			return el
		}
	}
	if p, ok := e.parent(); ok {
		return p
	}
	return e
}

func hintMatch(e Element) bool {
	haystack := strings.ToLower(e.Attr("class") + " " + e.Attr("id"))
	for _, hint := range overlayHints {
		if strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}

// Title returns the document title.
func (p *Page) Title() string {
	if n := p.find(func(n *html.Node) bool { return n.Data == "title" }); n != nil {
		return Element{node: n}.Text()
	}
	return ""
}

// FirstHeading returns the text of the first h1.
func (p *Page) FirstHeading() string {
	if n := p.find(func(n *html.Node) bool { return n.Data == "h1" }); n != nil {
		return Element{node: n}.Text()
	}
	return ""
}

// Hostname returns the page host with any leading "www." stripped.
func (p *Page) Hostname() string {
	return strings.TrimPrefix(p.URL.Hostname(), "www.")
}

// BodyText returns the full document text, lowercased lazily by callers as
// needed. Cached because sweeps and extraction both read it.
func (p *Page) BodyText() string {
	if p.bodyText == "" {
		var b strings.Builder
		collectText(p.root, &b)
		p.bodyText = strings.Join(strings.Fields(b.String()), " ")
	}
	return p.bodyText
}

// Links returns every anchor with an href.
func (p *Page) Links() []Element {
	return p.collect(func(n *html.Node) bool {
		return n.Data == "a" && Element{node: n}.Attr("href") != ""
	})
}

// Clickables returns buttons, links, submit/button inputs and role=button
// elements.
func (p *Page) Clickables() []Element {
	return p.collect(func(n *html.Node) bool {
		el := Element{node: n}
		switch n.Data {
		case "button", "a":
			return true
		case "input":
			t := el.Attr("type")
			return t == "button" || t == "submit"
		}
		return el.Attr("role") == "button"
	})
}

// Overlays returns containers whose class or id suggests a modal, popup,
// overlay or cookie banner.
func (p *Page) Overlays() []Element {
	return p.collect(func(n *html.Node) bool {
		return hintMatch(Element{node: n})
	})
}

// FindByAttrHints returns elements whose class, id or data-testid contains
// any of the given hints. Used by the auth-signal scorer for its
// styled-element checks.
func (p *Page) FindByAttrHints(hints ...string) []Element {
	return p.collect(func(n *html.Node) bool {
		el := Element{node: n}
		haystack := strings.ToLower(el.Attr("class") + " " + el.Attr("id") + " " + el.Attr("data-testid"))
		for _, hint := range hints {
			if strings.Contains(haystack, hint) {
				return true
			}
		}
		return false
	})
}

// ResolveURL resolves a possibly relative href against the page URL.
func (p *Page) ResolveURL(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.URL.ResolveReference(ref).String()
}

func (p *Page) find(match func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(p.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && match(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

func (p *Page) collect(match func(*html.Node) bool) []Element {
	var out []Element
	walk(p.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, Element{node: n})
		}
		return true
	})
	return out
}

// walk traverses depth-first; the visitor returns false to stop.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
