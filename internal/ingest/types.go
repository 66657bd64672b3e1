package ingest

import (
	"context"
	"io"
	"time"
)

// TableKind tells which cutoff table of a bulletin a table was taken from.
type TableKind string

const (
	TableFinalAction    TableKind = "final_action"
	TableDatesForFiling TableKind = "dates_for_filing"
)

// Column names injected into every normalized table and used by the projections.
const (
	ColumnFamily          = "family-sponsored"
	ColumnBulletinDate    = "visa_bulletin_date"
	ColumnTableType       = "table_type"
	ColumnLevel           = "F_level"
	ColumnFinalActionDate = "final_action_dates"
	ColumnWaitTime        = "visa_wait_time"
)

// RawTable is a candidate table as found in the document: rows of trimmed cell texts,
// header cells first, then data cells.
type RawTable struct {
	Rows         [][]string
	BulletinDate *time.Time
	Kind         TableKind
}

// NormalizedTable is a RawTable reshaped into named columns. The bulletin date and
// table kind travel with the table and are exposed as the visa_bulletin_date and
// table_type columns.
type NormalizedTable struct {
	Columns      []string
	Rows         [][]string
	BulletinDate *time.Time
	Kind         TableKind
	SourceURL    string
}

// Header returns the column names including the two injected columns.
func (t NormalizedTable) Header() []string {
	header := make([]string, 0, len(t.Columns)+2)
	header = append(header, t.Columns...)
	return append(header, ColumnBulletinDate, ColumnTableType)
}

// ColumnIndex returns the position of the first column with the given name, or -1.
func (t NormalizedTable) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Cell returns the text at row/col. Short rows read as empty cells.
func (t NormalizedTable) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][col]
}

// CountryRow is one family-level row projected out of a table for a single country.
type CountryRow struct {
	Level          string // raw family-sponsored label, e.g. "F1" or "2nd-A"
	FinalActionRaw string // raw cutoff cell, e.g. "01JAN15", "C", "U"
	BulletinDate   *time.Time
	Kind           TableKind
}

// BacklogRow is a CountryRow with its cutoff resolved and its wait time computed.
type BacklogRow struct {
	Level           string // canonical: 1, 2A, 2B, 3, 4
	FinalActionDate *time.Time
	BulletinDate    time.Time
	Kind            TableKind
	WaitYears       *float64

	RawLevel  string
	RawCutoff string
}

// OutcomeStatus reports whether a unit of work contributed to the run.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Skip reasons recorded on outcomes.
const (
	ReasonFetchFailed         = "fetch_failed"
	ReasonParseFailed         = "parse_failed"
	ReasonExtractFailed       = "extract_failed"
	ReasonNoFamilyTables      = "no_family_tables"
	ReasonNoCountryColumn     = "no_country_column"
	ReasonMissingFamilyColumn = "missing_family_column"
)

// Outcome is the structured result of processing one document or one table.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Err    error         `json:"-"`
}

func ok() Outcome { return Outcome{Status: OutcomeOK} }

func skipped(reason string, err error) Outcome {
	return Outcome{Status: OutcomeSkipped, Reason: reason, Err: err}
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
