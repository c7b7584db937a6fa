package backoff

import "net/http"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) " +
		"Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/91.0.4472.114 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) " +
		"CriOS/91.0.4472.80 Mobile/15E148 Safari/604.1",
}

// DefaultIdentities returns one browser-like header set per known User-Agent.
// Accept-Encoding is left to the transport so it can decompress transparently.
func DefaultIdentities() []http.Header {
	out := make([]http.Header, 0, len(userAgents))
	for _, ua := range userAgents {
		out = append(out, http.Header{
			"User-Agent":                {ua},
			"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
			"Accept-Language":           {"en-US,en;q=0.5"},
			"Connection":                {"keep-alive"},
			"Upgrade-Insecure-Requests": {"1"},
			"Cache-Control":             {"max-age=0"},
		})
	}
	return out
}
