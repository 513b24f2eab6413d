// Package fetch downloads web pages and reduces them to readable text
// for the model. HTML is stripped of scripts, navigation, and other
// chrome; plain text and other UTF-8 bodies pass through as they are.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mwortham/reeve/internal/httpkit"
)

const (
	// DefaultTimeout bounds the whole request including body download.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps how much of a response body is read (5 MB).
	DefaultMaxBytes int64 = 5 << 20

	// DefaultMaxChars caps extracted text when the caller passes no
	// limit of its own.
	DefaultMaxChars = 50000
)

// Result is what the web_fetch tool hands back to the model.
type Result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	Length      int    `json:"length"`
	StatusCode  int    `json:"status_code"`
}

// Fetcher downloads pages with the shared HTTP client settings.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// New creates a Fetcher with default limits.
func New() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads rawURL and extracts readable text. maxChars caps the
// returned content; zero means DefaultMaxChars. Error statuses are not
// failures: the status code and whatever text the error page carries
// go back to the model, which can decide what to do with them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxChars int) (*Result, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("web_fetch: url is required")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read one byte past the cap so capped bodies are reported as
	// truncated instead of silently shortened.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("web_fetch: read response: %w", err)
	}
	capped := int64(len(body)) > f.maxBytes
	if capped {
		body = body[:f.maxBytes]
	}

	res := &Result{
		URL:         rawURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case isHTML(res.ContentType):
		res.Title, res.Content = extractHTML(string(body))
	case isText(res.ContentType):
		res.Content = string(body)
	case utf8.Valid(body):
		res.Content = string(body)
	default:
		res.Content = fmt.Sprintf("Binary content (%s), %d bytes", res.ContentType, len(body))
		res.Length = len(body)
		return res, nil
	}

	res.Truncated = capped
	if len(res.Content) > maxChars {
		res.Content = cutRunes(res.Content, maxChars)
		res.Truncated = true
	}
	res.Length = len(res.Content)
	return res, nil
}

func isHTML(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func isText(ct string) bool {
	return strings.Contains(strings.ToLower(ct), "text/plain")
}

// cutRunes shortens s to at most n runes without splitting a
// multi-byte sequence.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
