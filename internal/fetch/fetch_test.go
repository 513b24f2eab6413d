package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractHTML(t *testing.T) {
	doc := `<!DOCTYPE html>
<html>
<head><title>  Release Notes  </title><script>var tracked = true;</script></head>
<body>
<header>Site banner</header>
<nav><a href="/">Home</a> <a href="/about">About</a></nav>
<main>
<h1>Version 2.0</h1>
<p>This release adds <strong>streaming</strong> support.</p>
<ul><li>faster startup</li><li>fewer allocations</li></ul>
</main>
<style>.ad { display: block }</style>
<footer>Copyright notice</footer>
</body>
</html>`

	title, content := extractHTML(doc)

	if title != "Release Notes" {
		t.Errorf("title = %q, want %q", title, "Release Notes")
	}
	for _, want := range []string{"Version 2.0", "streaming", "faster startup", "fewer allocations"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
	for _, drop := range []string{"var tracked", "Site banner", "Home", "display: block", "Copyright"} {
		if strings.Contains(content, drop) {
			t.Errorf("content should not contain %q:\n%s", drop, content)
		}
	}
}

func TestExtractHTML_ListItemsOnSeparateLines(t *testing.T) {
	_, content := extractHTML(`<html><body><ul><li>one</li><li>two</li></ul></body></html>`)
	lines := strings.Split(content, "\n")
	var items []string
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			items = append(items, l)
		}
	}
	if len(items) != 2 || items[0] != "one" || items[1] != "two" {
		t.Errorf("list items not on separate lines: %q", content)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "reeve/") {
			t.Errorf("User-Agent = %q, want reeve/<version>", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Home</title></head><body><p>Hello from the test server</p></body></html>`))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if result.Title != "Home" {
		t.Errorf("Title = %q, want %q", result.Title, "Home")
	}
	if !strings.Contains(result.Content, "Hello from the test server") {
		t.Errorf("Content = %q", result.Content)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if !strings.Contains(result.ContentType, "text/html") {
		t.Errorf("ContentType = %q", result.ContentType)
	}
	if result.Length != len(result.Content) {
		t.Errorf("Length = %d, want %d", result.Length, len(result.Content))
	}
}

func TestFetch_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("line one\nline two"))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.Content != "line one\nline two" {
		t.Errorf("plain text should pass through untouched, got %q", result.Content)
	}
}

func TestFetch_ErrorStatusReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<html><body><p>That page moved to /v2/docs</p></body></html>`))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("error pages should not fail the fetch: %v", err)
	}
	if result.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", result.StatusCode)
	}
	if !strings.Contains(result.Content, "moved to /v2/docs") {
		t.Errorf("error page text should survive, got %q", result.Content)
	}
}

func TestFetch_Truncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 100)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !result.Truncated {
		t.Error("Truncated should be set when max_chars cuts the body")
	}
	if len(result.Content) != 100 {
		t.Errorf("content length = %d, want 100", len(result.Content))
	}
	if result.Length != 100 {
		t.Errorf("Length = %d, want 100", result.Length)
	}
}

func TestFetch_BinaryBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0xff, 0xfe, 0x00, 0x01})
	}))
	defer srv.Close()

	result, err := New().Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(result.Content, "Binary content") {
		t.Errorf("binary bodies should be described, not dumped: %q", result.Content)
	}
	if result.Length != 4 {
		t.Errorf("Length = %d, want raw byte count 4", result.Length)
	}
}

func TestFetch_EmptyURL(t *testing.T) {
	if _, err := New().Fetch(context.Background(), "", 0); err == nil {
		t.Fatal("empty URL should fail")
	}
}

func TestCollapseWhitespace(t *testing.T) {
	in := "  Hello   world  \n\n\n\n  Second line  \n\n\n Third  "
	got := collapseWhitespace(in)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank line runs should collapse: %q", got)
	}
	if !strings.HasPrefix(got, "Hello world") {
		t.Errorf("inner space runs should collapse: %q", got)
	}
}

func TestCutRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"Héllo wörld", 4, "Héll"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := cutRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("cutRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestToolHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Tool Test</title></head><body><p>Body text here</p></body></html>`))
	}))
	defer srv.Close()

	out, err := ToolHandler(New())(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("handler output is not a JSON Result: %v\n%s", err, out)
	}
	if result.Title != "Tool Test" || !strings.Contains(result.Content, "Body text here") {
		t.Errorf("decoded result incomplete: %+v", result)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
}

func TestToolHandler_MaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("y", 500)))
	}))
	defer srv.Close()

	out, err := ToolHandler(New())(context.Background(), map[string]any{
		"url":       srv.URL,
		"max_chars": float64(50),
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Content) != 50 || !result.Truncated {
		t.Errorf("max_chars not honored: len=%d truncated=%v", len(result.Content), result.Truncated)
	}
}

func TestToolHandler_MissingURL(t *testing.T) {
	if _, err := ToolHandler(New())(context.Background(), map[string]any{}); err == nil {
		t.Fatal("missing url should fail")
	}
}
