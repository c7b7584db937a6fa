// Package collyfetcher implements a single-attempt Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	// MaxBodySize caps the response body in bytes; 0 disables the limit.
	MaxBodySize int
	// Transport replaces the pooled HTTP transport (used by tests).
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every status
// code is returned as a response; only transport failures are errors.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	c.MaxBodySize = cfg.MaxBodySize

	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Clones share the backend, so the timeout applies to every fetch.
	c.SetRequestTimeout(timeout)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes one HTTP request using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	hdr := request.Headers.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	var body io.Reader
	switch {
	case len(request.Body) > 0:
		body = bytes.NewReader(request.Body)
	case method == http.MethodPost && len(request.Params) > 0:
		body = strings.NewReader(request.Params.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
		request.Params = nil
	}
	target, err := requestURL(request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	if err := f.runCollector(ctx, func() error {
		return collector.Request(method, target, body, colly.NewContext(), hdr)
	}, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		// Go's transport negotiates gzip only when the caller leaves this unset.
		r.Headers.Del("Accept-Encoding")
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, visit func() error, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func requestURL(request crawler.FetchRequest) (string, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}
	if len(request.Params) > 0 {
		q := u.Query()
		for key, values := range request.Params {
			q.Del(key)
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
