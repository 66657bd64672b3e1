package ingest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// familyMarker identifies the family-sponsored tables of a bulletin.
const familyMarker = "family-sponsored"

// ExtractTables finds the family-sponsored tables of a bulletin page and normalizes them.
// Candidates are assigned kinds by the policy in document order and scanning stops at
// policy.Limit(). A malformed candidate fails the whole document.
func ExtractTables(doc *goquery.Document, link string, policy TableKindPolicy) ([]NormalizedTable, error) {
	if policy == nil {
		policy = DefaultTableKinds
	}
	bulletinDate := bulletinDatePtr(link)

	var tables []NormalizedTable
	var extractErr error
	ordinal := 0

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if ordinal >= policy.Limit() {
			return false
		}
		rows := table.Find("tr")
		if !hasFamilyRow(rows) {
			return true
		}

		kind, found := policy.Kind(ordinal)
		ordinal++
		if !found {
			return false
		}

		raw := RawTable{
			Rows:         tableCells(rows),
			BulletinDate: bulletinDate,
			Kind:         kind,
		}
		normalized, err := NormalizeTable(raw)
		if err != nil {
			extractErr = fmt.Errorf("%s table %d: %w", kind, ordinal, err)
			return false
		}
		normalized.SourceURL = link
		tables = append(tables, normalized)

		log.Debug().
			Str("link", link).
			Str("table_type", string(kind)).
			Int("columns", len(normalized.Columns)).
			Int("rows", len(normalized.Rows)).
			Msg("Extracted family table")

		return ordinal < policy.Limit()
	})

	if extractErr != nil {
		return nil, extractErr
	}
	return tables, nil
}

// hasFamilyRow reports whether any row's stripped text mentions family-sponsored.
func hasFamilyRow(rows *goquery.Selection) bool {
	found := false
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if strings.Contains(foldLower(strippedText(row)), familyMarker) {
			found = true
			return false
		}
		return true
	})
	return found
}

// tableCells flattens each row into its th cells followed by its td cells, trimmed.
func tableCells(rows *goquery.Selection) [][]string {
	cells := make([][]string, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		var line []string
		row.Find("th").Each(func(_ int, c *goquery.Selection) {
			line = append(line, strings.TrimSpace(c.Text()))
		})
		row.Find("td").Each(func(_ int, c *goquery.Selection) {
			line = append(line, strings.TrimSpace(c.Text()))
		})
		cells = append(cells, line)
	})
	return cells
}

// NormalizeTable picks the header row and names the columns.
// A single-cell first row is a merged caption, so the header is the second row.
func NormalizeTable(raw RawTable) (NormalizedTable, error) {
	if len(raw.Rows) == 0 {
		return NormalizedTable{}, ErrNoHeaderRow
	}

	headerAt := 0
	if len(raw.Rows[0]) == 1 {
		headerAt = 1
	}
	if headerAt >= len(raw.Rows) {
		return NormalizedTable{}, ErrNoHeaderRow
	}

	header := raw.Rows[headerAt]
	body := raw.Rows[headerAt+1:]

	if width := widestRow(body); len(body) > 0 && width != len(header) {
		return NormalizedTable{}, fmt.Errorf("%w: header has %d columns, rows have %d", ErrRowWidth, len(header), width)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = normalizeColumnName(name)
	}

	return NormalizedTable{
		Columns:      columns,
		Rows:         body,
		BulletinDate: raw.BulletinDate,
		Kind:         raw.Kind,
	}, nil
}

func widestRow(rows [][]string) int {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// normalizeColumnName drops line breaks, joins "Family- Sponsored" style splits and lowercases.
func normalizeColumnName(name string) string {
	name = strings.ReplaceAll(name, "\n", "")
	name = strings.ReplaceAll(name, "- ", "-")
	return foldLower(name)
}
