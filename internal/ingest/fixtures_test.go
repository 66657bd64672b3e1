package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

type MockFetcher struct {
	Data map[string][]byte

	mu    sync.Mutex
	Calls []string
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, url)
	m.mu.Unlock()

	content, found := m.Data[url]
	if !found {
		return nil, fmt.Errorf("mock 404: %s", url)
	}
	return &FetchedDocument{
		URL:        url,
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewReader(content)),
		Headers:    make(http.Header),
		FetchedAt:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

// standardHeader is the header row printed in recent bulletins.
var standardHeader = []string{
	"Family- <br />Sponsored",
	"All Chargeability Areas Except Those Listed",
	"CHINA-mainland born",
	"INDIA",
	"MEXICO",
	"PHILIPPINES",
}

// familyTableHTML renders a table whose first row is the header, optionally preceded
// by a merged caption row.
func familyTableHTML(caption string, header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("<table>\n")
	if caption != "" {
		fmt.Fprintf(&b, "<tr><td colspan=\"%d\">%s</td></tr>\n", len(header), caption)
	}
	b.WriteString("<tr>")
	for _, h := range header {
		fmt.Fprintf(&b, "<td>%s</td>", h)
	}
	b.WriteString("</tr>\n")
	for _, row := range rows {
		b.WriteString("<tr>")
		for i, cell := range row {
			if i == 0 {
				fmt.Fprintf(&b, "<th>%s</th>", cell)
				continue
			}
			fmt.Fprintf(&b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}

func pageHTML(tables ...string) string {
	return "<html><body>\n<p>Visa Bulletin</p>\n" +
		`<table><tr><td>Employment-Based</td><td>INDIA</td></tr><tr><td>1st</td><td>C</td></tr></table>` + "\n" +
		strings.Join(tables, "\n") + "</body></html>"
}

// uniformRows gives every country the same cutoff per level.
func uniformRows(cutoffs map[string]string, levels ...string) [][]string {
	rows := make([][]string, 0, len(levels))
	for _, level := range levels {
		c := cutoffs[level]
		rows = append(rows, []string{level, c, c, c, c, c})
	}
	return rows
}

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	dt := date(y, m, d)
	return &dt
}
