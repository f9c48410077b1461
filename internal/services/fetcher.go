package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// Domains whose pages only render under script execution. These skip the
// plain fetch and go straight to the reader service.
var jsRequiredDomains = []string{
	"kindaling.de",
	"kinderzeit-bremen.de",
}

// browserUserAgents are rotated across retries; some venue sites block the
// default Go user agent outright.
var browserUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// PageFetcher retrieves page content for the site pipeline. Static pages are
// fetched directly with retries; script-rendered pages fall back to the Jina
// reader service, which also returns a token-efficient markdown rendering
// for the extraction call.
type PageFetcher struct {
	client    *retryablehttp.Client
	readerURL string
	log       *logrus.Logger
}

// NewPageFetcher creates a fetcher with the given per-request timeout.
func NewPageFetcher(timeout time.Duration, maxRetries int, log *logrus.Logger) *PageFetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &PageFetcher{
		client:    client,
		readerURL: "https://r.jina.ai",
		log:       log,
	}
}

// SetReaderURL overrides the reader service endpoint.
func (f *PageFetcher) SetReaderURL(u string) {
	f.readerURL = strings.TrimRight(u, "/")
}

// NeedsRendering reports whether pageURL belongs to a domain known to
// require script execution.
func NeedsRendering(pageURL string) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range jsRequiredDomains {
		if strings.Contains(host, domain) {
			return true
		}
	}
	return false
}

// FetchHTML retrieves the raw HTML of a page. Script-heavy domains and
// direct-fetch failures fall back to the reader service.
func (f *PageFetcher) FetchHTML(ctx context.Context, pageURL string) (string, error) {
	if NeedsRendering(pageURL) {
		return f.fetchViaReader(ctx, pageURL, "html")
	}
	html, err := f.fetchDirect(ctx, pageURL)
	if err != nil {
		f.log.WithFields(logrus.Fields{"url": pageURL, "error": err}).
			Warn("direct fetch failed, falling back to reader service")
		return f.fetchViaReader(ctx, pageURL, "html")
	}
	return html, nil
}

// FetchReadable retrieves a markdown rendering of a page via the reader
// service. Markdown keeps the extraction call well under token limits.
func (f *PageFetcher) FetchReadable(ctx context.Context, pageURL string) (string, error) {
	return f.fetchViaReader(ctx, pageURL, "markdown")
}

func (f *PageFetcher) fetchDirect(ctx context.Context, pageURL string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", browserUserAgents[0])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch of %s returned status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", pageURL, err)
	}
	return string(body), nil
}

func (f *PageFetcher) fetchViaReader(ctx context.Context, pageURL, format string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.readerURL+"/"+pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create reader request for %s: %w", pageURL, err)
	}
	// Rotate user agents across the retry budget; some upstreams rate-limit
	// per agent string.
	req.Header.Set("User-Agent", browserUserAgents[int(time.Now().UnixNano())%len(browserUserAgents)])
	if format == "html" {
		req.Header.Set("X-Return-Format", "html")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reader fetch of %s failed: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader fetch of %s returned status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read reader response for %s: %w", pageURL, err)
	}
	content := string(body)
	if len(strings.TrimSpace(content)) < 100 {
		return "", fmt.Errorf("reader returned %d chars for %s, likely an error page", len(content), pageURL)
	}
	return content, nil
}
