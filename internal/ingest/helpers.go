package ingest

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// normalizeSpace collapses runs of whitespace into one space and trims the string.
// strings.Fields splits on NBSP too.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// foldLower lowercases s. A cases.Caser is stateful, so one is built per call.
func foldLower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// strippedText concatenates every text node under the selection, each trimmed on its own.
// "Family-\n  Sponsored" spread over two nodes reads as "Family-Sponsored".
func strippedText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectStripped(n, &b)
	}
	return b.String()
}

func collectStripped(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(strings.TrimSpace(n.Data))
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectStripped(c, b)
	}
}

// appendUnique appends a string to a slice if it doesn't already exist (case-insensitive).
func appendUnique(list []string, v string) []string {
	vClean := strings.TrimSpace(v)
	if vClean == "" {
		return list
	}

	vLower := foldLower(vClean)
	for _, existing := range list {
		if foldLower(existing) == vLower {
			return list
		}
	}
	return append(list, vClean)
}
