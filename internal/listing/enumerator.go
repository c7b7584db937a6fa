// Package listing discovers the crawl extent and the items on each listing
// page of the judgment catalog.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/parser"
)

// Config locates the catalog.
type Config struct {
	BaseURL   string `mapstructure:"base_url"`
	SearchURL string `mapstructure:"search_url"`
	PageSize  int    `mapstructure:"page_size"`
	// FallbackTotalItems is used when the page count cannot be read.
	FallbackTotalItems int `mapstructure:"fallback_total_items"`
}

// Enumerator implements crawler.Enumerator over the catalog search pages.
type Enumerator struct {
	cfg       Config
	base      *url.URL
	fetcher   crawler.Fetcher
	completed crawler.CompletionChecker
	errs      crawler.ErrorSink
	logger    *zap.Logger

	cards    []parser.CardStrategy
	links    []parser.LinkStrategy
	metadata []parser.MetadataStrategy
}

var _ crawler.Enumerator = (*Enumerator)(nil)

// New validates cfg and builds an Enumerator.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	completed crawler.CompletionChecker,
	errs crawler.ErrorSink,
	logger *zap.Logger,
) (*Enumerator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if completed == nil {
		return nil, errors.New("completion checker is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.SearchURL) == "" {
		return nil, errors.New("search url is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enumerator{
		cfg:       cfg,
		base:      base,
		fetcher:   fetcher,
		completed: completed,
		errs:      errs,
		logger:    logger.Named("listing"),
		cards:     parser.DefaultCardStrategies,
		links:     parser.DefaultLinkStrategies,
		metadata:  parser.CardMetadataStrategies,
	}, nil
}

// TotalPages resolves the number of listing pages. It returns 0 only when the
// search page cannot be fetched.
func (e *Enumerator) TotalPages(ctx context.Context) int {
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: e.cfg.SearchURL})
	if err != nil {
		e.logger.Error("Failed to get total pages", zap.Error(err))
		return 0
	}
	doc, err := parser.ParseDocument(resp.Body)
	if err != nil {
		e.logError(fmt.Sprintf("Error parsing total pages: %v", err), e.cfg.SearchURL)
	} else {
		if n, ok := parser.ResultCount(doc); ok {
			pages := parser.PagesFor(n, e.cfg.PageSize)
			e.logger.Info("Resolved total pages from result count", zap.Int("results", n), zap.Int("pages", pages))
			return pages
		}
		if last := parser.MaxPaginationPage(doc); last > 0 {
			e.logger.Info("Resolved total pages from pagination", zap.Int("pages", last))
			return last
		}
	}
	pages := parser.PagesFor(e.cfg.FallbackTotalItems, e.cfg.PageSize)
	e.logger.Warn("Using default total judgments count",
		zap.Int("results", e.cfg.FallbackTotalItems),
		zap.Int("pages", pages),
	)
	return pages
}

// ListItems returns the not-yet-completed items on page, in document order.
func (e *Enumerator) ListItems(ctx context.Context, page int) ([]crawler.ItemDescriptor, error) {
	e.logger.Info("Scraping judgments on page", zap.Int("page", page))
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:    e.cfg.SearchURL,
		Params: url.Values{"page": {strconv.Itoa(page)}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	doc, err := parser.ParseDocument(resp.Body)
	if err != nil {
		return nil, &crawler.ParseFailure{Role: "listing", URL: resp.URL, Err: err}
	}

	var items []crawler.ItemDescriptor
	seen := make(map[string]struct{})
	parser.Cards(doc, e.cards).Each(func(_ int, card *goquery.Selection) {
		item, ok, err := e.parseCard(card, page)
		if err != nil {
			e.logError(fmt.Sprintf("Error parsing judgment card: %v", err), "")
			return
		}
		if !ok {
			return
		}
		if _, dup := seen[item.ID]; dup {
			return
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	})
	e.logger.Info("Found judgments on page", zap.Int("page", page), zap.Int("count", len(items)))
	return items, nil
}

// parseCard returns ok=false for cards that are skipped silently.
func (e *Enumerator) parseCard(card *goquery.Selection, page int) (item crawler.ItemDescriptor, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.ParseFailure{Role: "card", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	link := parser.CardLink(card, e.links)
	if link.Length() == 0 {
		return crawler.ItemDescriptor{}, false, nil
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	if href == "" {
		return crawler.ItemDescriptor{}, false, nil
	}
	abs, err := parser.ResolveLink(e.base, href)
	if err != nil {
		return crawler.ItemDescriptor{}, false, &crawler.ParseFailure{Role: "card", URL: href, Err: err}
	}
	id, err := parser.ItemID(abs)
	if err != nil {
		return crawler.ItemDescriptor{}, false, &crawler.ParseFailure{Role: "card", URL: abs, Err: err}
	}
	if id == "" || e.completed.Contains(id) {
		return crawler.ItemDescriptor{}, false, nil
	}

	title := strings.TrimSpace(link.Text())
	meta := parser.ResolveFields(parser.Metadata(card, e.metadata), title)
	meta[crawler.FieldTitle] = title
	return crawler.ItemDescriptor{
		ID:       id,
		URL:      abs,
		Title:    title,
		Page:     page,
		Metadata: meta,
	}, true, nil
}

func (e *Enumerator) logError(message, url string) {
	e.logger.Error(message, zap.String("url", url))
	if e.errs != nil {
		e.errs.LogError(message, url)
	}
}
