package ingest

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Country keys produced by a run.
const (
	CountryIndia       = "india"
	CountryChina       = "china"
	CountryMexico      = "mexico"
	CountryPhilippines = "philippines"
	CountryRestOfWorld = "row"
)

// KnownCountries lists the country keys in output order.
var KnownCountries = []string{CountryIndia, CountryChina, CountryMexico, CountryPhilippines, CountryRestOfWorld}

// restOfWorldHeader is the column heading for every country without its own column.
const restOfWorldHeader = "all chargeability areas except those listed"

// CountryColumns is the column set of a projection, present even when it has no rows.
var CountryColumns = []string{ColumnLevel, ColumnFinalActionDate, ColumnBulletinDate, ColumnTableType}

// ValidateCountry rejects keys outside KnownCountries.
func ValidateCountry(key string) error {
	for _, known := range KnownCountries {
		if key == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCountry, key)
}

// LookupText is the text searched for in column names for a country key.
func LookupText(key string) string {
	if key == CountryRestOfWorld {
		return restOfWorldHeader
	}
	return key
}

// ColumnMatcher finds a country's column among a table's column names.
// Names are compared with whitespace runs (NBSP included) collapsed to one space, so
// headings printed with doubled spaces in older bulletins still match.
type ColumnMatcher struct{}

// Match returns the index of the first column containing lookup, or -1, plus
// every index that matched.
func (ColumnMatcher) Match(columns []string, lookup string) (int, []int) {
	lookup = normalizeSpace(lookup)
	var candidates []int
	for i, col := range columns {
		if strings.Contains(normalizeSpace(col), lookup) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1, nil
	}
	if len(candidates) > 1 {
		log.Debug().
			Str("lookup", lookup).
			Ints("candidates", candidates).
			Msg("Several columns match, using the first")
	}
	return candidates[0], candidates
}

// TableOutcome records what the projection did with one table.
type TableOutcome struct {
	SourceURL string    `json:"source_url"`
	Kind      TableKind `json:"table_type"`
	Outcome
}

// ProjectionResult holds one country's rows across all tables.
type ProjectionResult struct {
	Country string
	Columns []string
	Rows    []CountryRow
	Tables  []TableOutcome
	Undated int // rows dropped for lacking a bulletin date
}

// ProjectCountry keeps the family level, the country's cutoff column, the bulletin date
// and the table kind of every table, in table order. Tables without the country's column
// or without a family-sponsored column are skipped with a reason.
func ProjectCountry(key string, tables []NormalizedTable) ProjectionResult {
	var matcher ColumnMatcher
	lookup := LookupText(key)

	result := ProjectionResult{Country: key, Columns: CountryColumns}
	var rows []CountryRow

	for i, table := range tables {
		outcome := TableOutcome{SourceURL: table.SourceURL, Kind: table.Kind}

		countryIdx, _ := matcher.Match(table.Columns, lookup)
		if countryIdx < 0 {
			outcome.Outcome = skipped(ReasonNoCountryColumn, nil)
			result.Tables = append(result.Tables, outcome)
			continue
		}
		levelIdx := table.ColumnIndex(ColumnFamily)
		if levelIdx < 0 {
			outcome.Outcome = skipped(ReasonMissingFamilyColumn, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnFamily))
			result.Tables = append(result.Tables, outcome)
			log.Debug().
				Str("country", key).
				Str("link", table.SourceURL).
				Int("table_index", i).
				Msg("Table has the country column but no family-sponsored column")
			continue
		}

		for r := range table.Rows {
			rows = append(rows, CountryRow{
				Level:          table.Cell(r, levelIdx),
				FinalActionRaw: table.Cell(r, countryIdx),
				BulletinDate:   table.BulletinDate,
				Kind:           table.Kind,
			})
		}
		outcome.Outcome = ok()
		result.Tables = append(result.Tables, outcome)
	}

	result.Rows = make([]CountryRow, 0, len(rows))
	for _, row := range rows {
		if row.BulletinDate == nil {
			result.Undated++
			continue
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}
