package ingest

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// BacklogResult is one country's finished time course.
type BacklogResult struct {
	Country string
	Rows    []BacklogRow
	Tables  []TableOutcome
	Dropped int // rows whose family level was not recognized
	Undated int
}

// CountByKind returns how many rows came from each table kind.
func (r BacklogResult) CountByKind() map[TableKind]int {
	counts := make(map[TableKind]int)
	for _, row := range r.Rows {
		counts[row.Kind]++
	}
	return counts
}

// BuildBacklog projects the tables for a country, resolves every cutoff, computes the
// wait times and normalizes the levels. Rows with unrecognized levels are dropped.
// The rows come out newest bulletin first; rows of the same bulletin keep their order.
func BuildBacklog(country string, tables []NormalizedTable) BacklogResult {
	projection := ProjectCountry(country, tables)
	result := BacklogResult{
		Country: country,
		Tables:  projection.Tables,
		Undated: projection.Undated,
		Rows:    make([]BacklogRow, 0, len(projection.Rows)),
	}

	for _, row := range projection.Rows {
		level, recognized := NormalizeLevel(row.Level)
		if !recognized {
			result.Dropped++
			continue
		}
		cutoff := ResolveDate(row.FinalActionRaw, row.BulletinDate)
		result.Rows = append(result.Rows, BacklogRow{
			Level:           level,
			FinalActionDate: cutoff,
			BulletinDate:    *row.BulletinDate,
			Kind:            row.Kind,
			WaitYears:       WaitYears(row.BulletinDate, cutoff),
			RawLevel:        row.Level,
			RawCutoff:       row.FinalActionRaw,
		})
	}

	sort.SliceStable(result.Rows, func(i, j int) bool {
		return result.Rows[i].BulletinDate.After(result.Rows[j].BulletinDate)
	})

	log.Debug().
		Str("country", country).
		Int("rows", len(result.Rows)).
		Int("dropped", result.Dropped).
		Int("undated", result.Undated).
		Msg("Built backlog")

	return result
}
