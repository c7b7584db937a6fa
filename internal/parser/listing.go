package parser

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

var (
	nonDigits = regexp.MustCompile(`[^\d]`)
	pageParam = regexp.MustCompile(`page=(\d+)`)
)

// CardStrategy selects the result cards of a listing page.
type CardStrategy func(doc *goquery.Document) *goquery.Selection

// LinkStrategy selects the detail link inside one card.
type LinkStrategy func(card *goquery.Selection) *goquery.Selection

// MetadataStrategy selects the key:value elements inside a container.
type MetadataStrategy func(s *goquery.Selection) *goquery.Selection

// CardsBy matches every element for selector.
func CardsBy(selector string) CardStrategy {
	return func(doc *goquery.Document) *goquery.Selection {
		return doc.Find(selector)
	}
}

// LinkBy matches the first element for selector.
func LinkBy(selector string) LinkStrategy {
	return func(card *goquery.Selection) *goquery.Selection {
		return card.Find(selector).First()
	}
}

// MetadataBy matches every element for selector.
func MetadataBy(selector string) MetadataStrategy {
	return func(s *goquery.Selection) *goquery.Selection {
		return s.Find(selector)
	}
}

// DefaultCardStrategies is the listing card cascade.
var DefaultCardStrategies = []CardStrategy{
	CardsBy(".card"),
	CardsBy(".case-result"),
	CardsBy(".search-result-item"),
	CardsBy("article"),
	CardsBy(".result-item"),
}

// DefaultLinkStrategies is the per-card link cascade.
var DefaultLinkStrategies = []LinkStrategy{
	LinkBy("h2 a"),
	LinkBy("h3 a"),
	LinkBy(".title a"),
	LinkBy("a"),
}

// CardMetadataStrategies is the per-card metadata cascade.
var CardMetadataStrategies = []MetadataStrategy{
	MetadataBy(".metadata-item"),
	MetadataBy(".case-meta li"),
	MetadataBy(".meta"),
}

// ParseDocument parses an HTML body.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ResultCount reads the total result count from the `.search-result-count`
// banner. It reports false when the banner is absent or has no digits.
func ResultCount(doc *goquery.Document) (int, bool) {
	banner := doc.Find(".search-result-count").First()
	if banner.Length() == 0 {
		return 0, false
	}
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(banner.Text()), "")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// MaxPaginationPage returns the largest page=N found in pagination links, 0
// when none.
func MaxPaginationPage(doc *goquery.Document) int {
	maxPage := 0
	doc.Find(".pagination a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		m := pageParam.FindStringSubmatch(href)
		if m == nil {
			return
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxPage {
			maxPage = n
		}
	})
	return maxPage
}

// PagesFor converts a result count to a page count.
func PagesFor(results, pageSize int) int {
	if results <= 0 || pageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(results) / float64(pageSize)))
}

// Cards returns the result cards using the first strategy with a match.
func Cards(doc *goquery.Document, strategies []CardStrategy) *goquery.Selection {
	for _, strategy := range strategies {
		if cards := strategy(doc); cards.Length() > 0 {
			return cards
		}
	}
	return doc.Find("__none__")
}

// CardLink returns the detail link of a card, or an empty selection.
func CardLink(card *goquery.Selection, strategies []LinkStrategy) *goquery.Selection {
	for _, strategy := range strategies {
		if link := strategy(card); link.Length() > 0 {
			return link
		}
	}
	return card.Find("__none__")
}

// Metadata collects normalized key:value pairs using the first strategy with a
// match. Keys are lowercased with spaces turned into underscores.
func Metadata(s *goquery.Selection, strategies []MetadataStrategy) map[string]string {
	for _, strategy := range strategies {
		items := strategy(s)
		if items.Length() == 0 {
			continue
		}
		return KeyValues(items)
	}
	return map[string]string{}
}

// KeyValues splits each element's text on its first colon.
func KeyValues(items *goquery.Selection) map[string]string {
	out := make(map[string]string, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		key, value, ok := strings.Cut(strings.TrimSpace(item.Text()), ":")
		if !ok {
			return
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
		out[key] = strings.TrimSpace(value)
	})
	return out
}

func firstNonEmpty(meta map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := meta[k]; v != "" {
			return v
		}
	}
	return ""
}

// ResolveFields fills the well-known fields from their fallback keys. Parties
// default to the title.
func ResolveFields(meta map[string]string, title string) map[string]string {
	out := make(map[string]string, len(meta)+5)
	for k, v := range meta {
		out[k] = v
	}
	out[crawler.FieldCaseNumber] = firstNonEmpty(meta, "case_number", "case_no", "number")
	out[crawler.FieldCourt] = firstNonEmpty(meta, "court", "court_name")
	out[crawler.FieldDate] = firstNonEmpty(meta, "date", "judgment_date")
	out[crawler.FieldJudges] = firstNonEmpty(meta, "judge", "judges", "coram")
	parties := meta["parties"]
	if parties == "" {
		parties = title
	}
	out[crawler.FieldParties] = parties
	return out
}

// ResolveLink makes href absolute against base.
func ResolveLink(base *url.URL, href string) (string, error) {
	if strings.HasPrefix(href, "http") {
		return href, nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// ItemID derives the stable identifier from a link: the last path segment up
// to its first dot.
func ItemID(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", link, err)
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return "", nil
	}
	base := path.Base(p)
	id, _, _ := strings.Cut(base, ".")
	return id, nil
}
