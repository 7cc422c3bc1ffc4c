package crawler

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/models"
)

// ContentParser derives per-page SEO metrics from parsed HTML. Parsing
// never fails a crawl; a malformed document just yields sparse metrics.
type ContentParser struct{}

// NewContentParser creates a content parser
func NewContentParser() *ContentParser {
	return &ContentParser{}
}

// Parse computes SEO metrics for the document at pageURL
func (p *ContentParser) Parse(doc *goquery.Document, pageURL string) *models.SEOMetrics {
	m := &models.SEOMetrics{}
	pageHost := common.ExtractHost(pageURL)

	// Lengths are character counts, not bytes
	title := collapseWhitespace(doc.Find("title").First().Text())
	m.TitleLength = utf8.RuneCountInString(title)

	if desc, ok := doc.Find("meta[name='description']").First().Attr("content"); ok {
		m.MetaDescriptionLength = utf8.RuneCountInString(strings.TrimSpace(desc))
	}

	m.H1Count = doc.Find("h1").Length()
	m.H2Count = doc.Find("h2").Length()

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		host := common.ExtractHost(href)
		if host == "" || host == pageHost {
			m.InternalLinks++
		} else {
			m.ExternalLinks++
		}
	})

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		m.ImageCount++
		if alt, ok := sel.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			m.ImagesMissingAlt++
		}
	})

	m.HasCanonical = doc.Find("link[rel='canonical']").Length() > 0
	m.HasRobotsMeta = doc.Find("meta[name='robots']").Length() > 0

	doc.Find("script[type='application/ld+json']").Each(func(_ int, sel *goquery.Selection) {
		m.HasStructuredData = true
		var payload interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return
		}
		m.StructuredDataTypes = append(m.StructuredDataTypes, structuredDataTypes(payload)...)
	})

	m.OGTitle = metaProperty(doc, "og:title")
	m.OGDescription = metaProperty(doc, "og:description")
	m.TwitterTitle = metaName(doc, "twitter:title")
	m.TwitterDescription = metaName(doc, "twitter:description")

	if viewport, ok := doc.Find("meta[name='viewport']").First().Attr("content"); ok {
		m.MobileViewport = strings.Contains(strings.ToLower(viewport), "width=device-width")
	}

	p.flagIssues(m)
	return m
}

// structuredDataTypes walks a decoded ld+json value collecting @type
// strings, recursing through nested objects and arrays.
func structuredDataTypes(v interface{}) []string {
	var types []string
	switch val := v.(type) {
	case map[string]interface{}:
		switch t := val["@type"].(type) {
		case string:
			types = append(types, t)
		case []interface{}:
			for _, item := range t {
				if s, ok := item.(string); ok {
					types = append(types, s)
				}
			}
		}
		for key, nested := range val {
			if key == "@type" {
				continue
			}
			types = append(types, structuredDataTypes(nested)...)
		}
	case []interface{}:
		for _, item := range val {
			types = append(types, structuredDataTypes(item)...)
		}
	}
	return types
}

func (p *ContentParser) flagIssues(m *models.SEOMetrics) {
	if m.TitleLength == 0 {
		m.Issues = append(m.Issues, "missing_title")
	} else if m.TitleLength > 60 {
		m.Issues = append(m.Issues, "title_too_long")
	}
	if m.MetaDescriptionLength == 0 {
		m.Issues = append(m.Issues, "missing_meta_description")
	} else if m.MetaDescriptionLength > 160 {
		m.Issues = append(m.Issues, "meta_description_too_long")
	}
	if m.H1Count == 0 {
		m.Issues = append(m.Issues, "missing_h1")
	} else if m.H1Count > 1 {
		m.Issues = append(m.Issues, "multiple_h1")
	}
	if m.ImagesMissingAlt > 0 {
		m.Issues = append(m.Issues, "images_missing_alt")
	}
	if !m.MobileViewport {
		m.Issues = append(m.Issues, "missing_mobile_viewport")
	}
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find("meta[property='" + property + "']").First().Attr("content")
	return strings.TrimSpace(content)
}

func metaName(doc *goquery.Document, name string) string {
	content, _ := doc.Find("meta[name='" + name + "']").First().Attr("content")
	return strings.TrimSpace(content)
}
