package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// dropElements never contribute visible text. The head is handled
// separately so the title survives.
var dropElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
}

// blockElements get paragraph breaks between their text runs.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.Aside: true,
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Tr: true,
	atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Figure: true, atom.Figcaption: true,
	atom.Details: true, atom.Summary: true, atom.Hr: true,
}

// extractHTML parses a document and returns its title and readable
// text with boilerplate removed.
func extractHTML(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// The parser is tolerant, so this is rare. Fall back to a
		// plain token scan.
		return "", flattenHTML(raw)
	}
	var e extractor
	e.walk(doc)
	return strings.TrimSpace(e.title), collapseWhitespace(e.text.String())
}

// extractor accumulates visible text during a single DOM walk.
type extractor struct {
	title string
	text  strings.Builder
}

func (e *extractor) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if n.DataAtom == atom.Head {
			e.title = titleIn(n)
			return
		}
		if dropElements[n.DataAtom] {
			return
		}
		if blockElements[n.DataAtom] && e.text.Len() > 0 {
			e.text.WriteString("\n\n")
		}
	}

	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			e.text.WriteString(t)
			e.text.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.walk(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		e.text.WriteByte('\n')
	}
}

// titleIn returns the text of the first <title> under n.
func titleIn(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := titleIn(c); t != "" {
			return t
		}
	}
	return ""
}

// collapseWhitespace squeezes runs of spaces within lines and runs of
// blank lines down to one of each.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// flattenHTML strips tags with the tokenizer, keeping only text
// tokens. Used when the full parser rejects the document.
func flattenHTML(s string) string {
	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tok.Next() {
		case html.ErrorToken:
			// EOF or a real error; either way the collected text is
			// all there is.
			return collapseWhitespace(b.String())
		case html.TextToken:
			b.Write(tok.Text())
			b.WriteByte(' ')
		}
	}
}
