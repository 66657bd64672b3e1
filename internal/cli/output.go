package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/david/visa-backlog/internal/ingest"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// CountrySummary is one line of the run summary.
type CountrySummary struct {
	Country        string `json:"country"`
	Rows           int    `json:"rows"`
	FinalAction    int    `json:"final_action"`
	DatesForFiling int    `json:"dates_for_filing"`
	Dropped        int    `json:"dropped"`
	Path           string `json:"path,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RunSummary condenses a RunReport for printing.
type RunSummary struct {
	RunID            string           `json:"run_id,omitempty"`
	Duration         string           `json:"duration"`
	DocumentsOK      int              `json:"documents_ok"`
	DocumentsSkipped int              `json:"documents_skipped"`
	SkipReasons      map[string]int   `json:"skip_reasons,omitempty"`
	Tables           int              `json:"tables"`
	Countries        []CountrySummary `json:"countries"`
}

// Summarize builds a RunSummary from a report.
func Summarize(report *ingest.RunReport) RunSummary {
	s := RunSummary{
		Duration:         report.Duration.Round(time.Millisecond).String(),
		DocumentsOK:      report.DocumentsOK(),
		DocumentsSkipped: report.DocumentsSkipped(),
		SkipReasons:      report.SkipReasons(),
		Tables:           report.TableCount(),
	}
	if report.RunID != uuid.Nil {
		s.RunID = report.RunID.String()
	}
	for _, cr := range report.Countries {
		byKind := cr.CountByKind()
		line := CountrySummary{
			Country:        cr.Country,
			Rows:           len(cr.Rows),
			FinalAction:    byKind[ingest.TableFinalAction],
			DatesForFiling: byKind[ingest.TableDatesForFiling],
			Dropped:        cr.Dropped,
			Path:           cr.Path,
		}
		if cr.Err != nil {
			line.Error = cr.Err.Error()
		}
		s.Countries = append(s.Countries, line)
	}
	return s
}

// WriteSummary writes the summary in the specified format
func WriteSummary(w io.Writer, s RunSummary, format OutputFormat) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(s)
	case FormatText:
		writeText(w, s)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeText(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "Documents: %d ok, %d skipped; %d tables in %s\n",
		s.DocumentsOK, s.DocumentsSkipped, s.Tables, s.Duration)

	if len(s.SkipReasons) > 0 {
		reasons := make([]string, 0, len(s.SkipReasons))
		for r := range s.SkipReasons {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(w, "  skipped (%s): %d\n", r, s.SkipReasons[r])
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Country", "Rows", "Final Action", "Dates For Filing", "Dropped", "File"})
	for _, c := range s.Countries {
		file := c.Path
		if c.Error != "" {
			file = "error: " + c.Error
		}
		t.AppendRow(table.Row{c.Country, c.Rows, c.FinalAction, c.DatesForFiling, c.Dropped, file})
	}
	t.Render()
}
