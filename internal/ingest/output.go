package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BacklogHeader is the column order of every backlog CSV.
var BacklogHeader = []string{ColumnLevel, ColumnFinalActionDate, ColumnBulletinDate, ColumnTableType, ColumnWaitTime}

const dateLayout = "2006-01-02"

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatYears(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// WriteBacklogCSV writes rows under BacklogHeader. Absent dates and wait times are empty cells.
func WriteBacklogCSV(w io.Writer, rows []BacklogRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BacklogHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Level,
			formatDate(row.FinalActionDate),
			formatDate(&row.BulletinDate),
			string(row.Kind),
			formatYears(row.WaitYears),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// OutputWriter persists one country's backlog.
type OutputWriter interface {
	WriteCountry(country string, rows []BacklogRow) (string, error)
}

// FileOutput writes one CSV per country into Dir. Pattern takes the country key.
type FileOutput struct {
	Dir     string
	Pattern string
}

// Path returns the file a country is written to.
func (o FileOutput) Path(country string) string {
	pattern := o.Pattern
	if pattern == "" {
		pattern = DefaultOutputPattern
	}
	return filepath.Join(o.Dir, fmt.Sprintf(pattern, country))
}

// WriteCountry replaces the country's CSV atomically: rows go to a temp file in
// the same directory which is then renamed over the target.
func (o FileOutput) WriteCountry(country string, rows []BacklogRow) (string, error) {
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	target := o.Path(country)

	tmp, err := os.CreateTemp(o.Dir, "."+country+"-*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteBacklogCSV(tmp, rows); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", country, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("rename into %s: %w", target, err)
	}
	return target, nil
}
