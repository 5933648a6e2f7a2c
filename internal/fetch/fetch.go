// Package fetch downloads web pages and reduces them to readable text for
// the web_fetch tool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/tollgate/internal/httpkit"
)

// Defaults applied when Options fields are zero.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxBytes int64 = 5 * 1024 * 1024
	DefaultMaxChars       = 50000
)

// Options configures a Fetcher.
type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	MaxChars int
	Logger   *slog.Logger
}

// Page holds the fetched and extracted content of a URL.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	StatusCode  int    `json:"status_code"`
}

// Text renders the page as plain text suitable for a tool result.
func (p *Page) Text() string {
	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", p.Title)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	fmt.Fprintf(&b, "URL: %s\n\n%s", p.URL, p.Content)
	if p.Truncated {
		b.WriteString("\n\n[content truncated]")
	}
	return b.String()
}

// Fetcher downloads and extracts readable content from web pages.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	maxChars int
	logger   *slog.Logger
}

// New creates a Fetcher. Zero option fields take the package defaults.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Fetcher{
		client: httpkit.NewClient(
			httpkit.WithTimeout(opts.Timeout),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(opts.Logger),
		),
		maxBytes: opts.MaxBytes,
		maxChars: opts.MaxChars,
		logger:   opts.Logger.With("component", "fetch"),
	}
}

// Fetch downloads rawURL and extracts readable text. maxChars limits the
// content length; zero uses the fetcher's limit.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 || maxChars > f.maxChars {
		maxChars = f.maxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	page := &Page{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(page.ContentType):
		doc := extractHTML(string(body))
		page.Title, page.Description, page.Content = doc.title, doc.description, doc.text
	case utf8.Valid(body):
		page.Content = string(body)
	default:
		page.Content = fmt.Sprintf("Binary content (%s), %d bytes", page.ContentType, len(body))
	}

	if utf8.RuneCountInString(page.Content) > maxChars {
		page.Content = truncateRunes(page.Content, maxChars)
		page.Truncated = true
	}

	f.logger.Debug("page fetched",
		"url", rawURL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"chars", len(page.Content),
		"elapsed", time.Since(start),
	)
	return page, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// truncateRunes cuts s to at most n runes without splitting a
// multi-byte character.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
