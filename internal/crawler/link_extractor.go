package crawler

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/models"
)

const maxContextTextLength = 100

// LinkExtractor pulls outbound links from parsed HTML documents
type LinkExtractor struct{}

// NewLinkExtractor creates a link extractor
func NewLinkExtractor() *LinkExtractor {
	return &LinkExtractor{}
}

// Extract returns every http(s) link on the page: a[href] anchors plus
// the canonical link element. Relative URLs are resolved against the
// page URL; unparseable hrefs are skipped. Each link gets a fresh ID so
// repeated discoveries of the same target stay distinct observations.
func (e *LinkExtractor) Extract(doc *goquery.Document, pageURL string) []models.Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []models.Link
	now := time.Now().UTC()

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target := resolveLink(base, href)
		if target == "" {
			return
		}

		relAttrs := splitRel(sel.AttrOr("rel", ""))
		links = append(links, models.Link{
			ID:            common.NewLinkID(),
			SourceURL:     pageURL,
			TargetURL:     target,
			AnchorText:    collapseWhitespace(sel.Text()),
			RelAttributes: relAttrs,
			LinkType:      models.DeriveLinkType(relAttrs),
			ContextText:   contextText(sel),
			DiscoveredAt:  now,
		})
	})

	doc.Find("link[rel='canonical'][href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target := resolveLink(base, href)
		if target == "" {
			return
		}
		links = append(links, models.Link{
			ID:            common.NewLinkID(),
			SourceURL:     pageURL,
			TargetURL:     target,
			RelAttributes: []string{"canonical"},
			LinkType:      models.LinkTypeCanonical,
			DiscoveredAt:  now,
		})
	})

	return links
}

// resolveLink makes href absolute against base and filters out anything
// that is not http or https
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func splitRel(rel string) []string {
	if rel == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Fields(strings.ToLower(rel)) {
		out = append(out, part)
	}
	return out
}

// contextText returns up to 100 characters of text surrounding the link,
// taken from the link's parent element minus the anchor text itself.
// Truncation counts runes, never splitting a multi-byte character.
func contextText(sel *goquery.Selection) string {
	parent := sel.Parent()
	if parent.Length() == 0 {
		return ""
	}
	full := collapseWhitespace(parent.Text())
	anchor := collapseWhitespace(sel.Text())
	if anchor != "" {
		full = strings.Replace(full, anchor, "", 1)
	}
	full = collapseWhitespace(full)
	if runes := []rune(full); len(runes) > maxContextTextLength {
		full = string(runes[:maxContextTextLength])
	}
	return full
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
