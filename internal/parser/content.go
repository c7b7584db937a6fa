package parser

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// MinContentLength is the text length a selector match must exceed to count
// as judgment content.
const MinContentLength = 100

// Content is the extracted judgment body.
type Content struct {
	// HTML is the outer HTML of the matched node, or the readability article.
	HTML string
	// Strategy names the strategy that matched.
	Strategy string
}

// ContentStrategy attempts to extract the judgment body.
type ContentStrategy func(doc *goquery.Document, pageURL *url.URL) (Content, bool)

// DetailMetadataStrategies is the detail page metadata cascade.
var DetailMetadataStrategies = []MetadataStrategy{
	MetadataBy(".case-metadata .metadata-item"),
	MetadataBy(".judgment-metadata span"),
}

var contentSelectors = []string{
	"#judgment-content",
	".judgment-content",
	".case-content",
	"article",
	".main-content",
	".content-area",
}

var fallbackContainers = []string{"main", "article", ".content"}

// DefaultContentStrategies returns the content cascade: the judgment
// selectors (length-checked), then the bare fallback containers, then
// readability when enabled.
func DefaultContentStrategies(withReadability bool) []ContentStrategy {
	out := make([]ContentStrategy, 0, len(contentSelectors)+len(fallbackContainers)+1)
	for _, sel := range contentSelectors {
		out = append(out, SelectorContent(sel, MinContentLength))
	}
	for _, sel := range fallbackContainers {
		out = append(out, SelectorContent(sel, 0))
	}
	if withReadability {
		out = append(out, ReadabilityContent(MinContentLength))
	}
	return out
}

// SelectorContent accepts the first match for selector when its trimmed text
// is longer than minLen runes. minLen 0 accepts any match.
func SelectorContent(selector string, minLen int) ContentStrategy {
	return func(doc *goquery.Document, _ *url.URL) (Content, bool) {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			return Content{}, false
		}
		if minLen > 0 && TextLength(node) <= minLen {
			return Content{}, false
		}
		html, err := goquery.OuterHtml(node)
		if err != nil {
			return Content{}, false
		}
		return Content{HTML: html, Strategy: selector}, true
	}
}

// ReadabilityContent runs a readability extraction over the whole page.
func ReadabilityContent(minLen int) ContentStrategy {
	return func(doc *goquery.Document, pageURL *url.URL) (Content, bool) {
		raw, err := doc.Html()
		if err != nil {
			return Content{}, false
		}
		article, err := readability.FromReader(strings.NewReader(raw), pageURL)
		if err != nil || strings.TrimSpace(article.Content) == "" {
			return Content{}, false
		}
		articleDoc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if err != nil {
			return Content{}, false
		}
		if TextLength(articleDoc.Selection) <= minLen {
			return Content{}, false
		}
		return Content{HTML: article.Content, Strategy: "readability"}, true
	}
}

// ExtractContent runs strategies in order and returns the first match.
func ExtractContent(doc *goquery.Document, pageURL *url.URL, strategies []ContentStrategy) (Content, bool) {
	for _, strategy := range strategies {
		if c, ok := strategy(doc, pageURL); ok {
			return c, true
		}
	}
	return Content{}, false
}

// TextLength counts the runes of a selection's trimmed text.
func TextLength(s *goquery.Selection) int {
	return utf8.RuneCountInString(strings.TrimSpace(s.Text()))
}
