package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/visa-backlog/internal/models"
	"github.com/google/uuid"
)

const (
	testListingURL = "https://travel.state.gov/content/travel/en/legal/visa-law0/visa-bulletin.html"
	testBaseURL    = "https://travel.state.gov/"
)

var bulletinMonths = []string{
	"october", "september", "august", "july", "june",
	"may", "april", "march", "february", "january",
}

func bulletinLink(month string) string {
	return "/content/travel/en/legal/visa-law0/visa-bulletin/2022/visa-bulletin-for-" + month + "-2022.html"
}

// bulletinSite builds a listing of ten 2022 bulletins. Each bulletin prints a final action
// and a dates for filing table whose cutoffs move with the month.
func bulletinSite(t *testing.T) (*MockFetcher, []string) {
	t.Helper()
	data := map[string][]byte{}
	links := make([]string, 0, len(bulletinMonths))
	for i, month := range bulletinMonths {
		link := bulletinLink(month)
		links = append(links, link)

		day := fmt.Sprintf("%02d", i+1)
		final := familyTableHTML("FAMILY-SPONSORED PREFERENCES", standardHeader, [][]string{
			{"F1", day + "DEC14", day + "JAN13", day + "FEB15", day + "MAR01", day + "APR12"},
			{"F2A", "C", "C", "C", day + "JAN20", "C"},
			{"F2B", day + "SEP15", day + "SEP15", day + "MAY13", day + "AUG01", day + "OCT11"},
			{"F3", "U", "U", "U", "U", "U"},
			{"F4", day + "MAR07", day + "MAR06", day + "SEP05", day + "JAN01", day + "JUN02"},
		})
		filing := familyTableHTML("", standardHeader, [][]string{
			{"F1", day + "SEP15", day + "SEP15", day + "SEP15", day + "APR01", day + "MAR15"},
			{"F2A", day + "SEP23", day + "SEP23", day + "SEP23", day + "JUN21", day + "SEP23"},
		})
		url, err := ResolveDocumentURL(testBaseURL, link)
		if err != nil {
			t.Fatal(err)
		}
		data[url] = []byte(pageHTML(final, filing))
	}
	data[testListingURL] = []byte(listingHTML(links[:5], links[5:]))
	return &MockFetcher{Data: data}, links
}

func testConfig(outDir string) *Config {
	return &Config{
		ListingURL:    testListingURL,
		BaseURL:       testBaseURL,
		Countries:     append([]string(nil), KnownCountries...),
		OutputDir:     outDir,
		OutputPattern: DefaultOutputPattern,
		Fetcher:       FetcherHTTP,
	}
}

func TestPipeline_Run(t *testing.T) {
	mock, links := bulletinSite(t)
	// The third bulletin cannot be fetched.
	failing, _ := ResolveDocumentURL(testBaseURL, links[2])
	delete(mock.Data, failing)

	outDir := t.TempDir()
	p := NewPipeline(testConfig(outDir), mock, nil)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Stats.TotalFound != 10 {
		t.Fatalf("found %d documents, want 10", report.Stats.TotalFound)
	}
	if report.DocumentsOK() != 9 || report.DocumentsSkipped() != 1 {
		t.Fatalf("ok=%d skipped=%d", report.DocumentsOK(), report.DocumentsSkipped())
	}
	if report.TableCount() != 18 {
		t.Fatalf("tables = %d, want 18", report.TableCount())
	}
	if reasons := report.SkipReasons(); reasons[ReasonFetchFailed] != 1 {
		t.Fatalf("skip reasons = %v", reasons)
	}
	if skippedDoc := report.Documents[2]; skippedDoc.Status != OutcomeSkipped || skippedDoc.Link != links[2] {
		t.Fatalf("unexpected third outcome: %+v", skippedDoc)
	}

	if len(report.Countries) != len(KnownCountries) {
		t.Fatalf("expected %d countries, got %d", len(KnownCountries), len(report.Countries))
	}
	for _, cr := range report.Countries {
		// 9 bulletins x (5 final action + 2 dates for filing) rows.
		if len(cr.Rows) != 63 {
			t.Errorf("%s rows = %d, want 63", cr.Country, len(cr.Rows))
		}
		if _, err := os.Stat(cr.Path); err != nil {
			t.Errorf("%s: %v", cr.Country, err)
		}
	}
	if report.Stats.TotalSaved != 63*len(KnownCountries) {
		t.Fatalf("saved = %d", report.Stats.TotalSaved)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "india_family_visa_backlog_timecourse.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 64 {
		t.Fatalf("expected header plus 63 rows, got %d lines", len(lines))
	}
	// October is the newest bulletin and its final action table comes first.
	if lines[1] != "1,2015-02-01,2022-10-01,final_action,7.663244353182751" {
		t.Fatalf("first row = %q", lines[1])
	}
	if lines[63] != "2A,2023-09-10,2022-01-01,dates_for_filing,-1.6892539356605065" {
		t.Fatalf("last row = %q", lines[63])
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	read := func(dir string) map[string]string {
		files := map[string]string{}
		for _, c := range KnownCountries {
			data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf(DefaultOutputPattern, c)))
			if err != nil {
				t.Fatal(err)
			}
			files[c] = string(data)
		}
		return files
	}

	var outputs []map[string]string
	for i := 0; i < 2; i++ {
		mock, _ := bulletinSite(t)
		dir := t.TempDir()
		if _, err := NewPipeline(testConfig(dir), mock, nil).Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		outputs = append(outputs, read(dir))
	}
	for _, c := range KnownCountries {
		if outputs[0][c] != outputs[1][c] {
			t.Fatalf("%s output differs between runs", c)
		}
	}
}

func TestPipeline_ListingFailure(t *testing.T) {
	mock := &MockFetcher{Data: map[string][]byte{}}
	store := &recordingStore{}
	outDir := t.TempDir()

	report, err := NewPipeline(testConfig(outDir), mock, store).Run(context.Background())
	if err == nil {
		t.Fatal("expected a listing failure")
	}
	if report == nil || len(report.Documents) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if store.completed.Status != models.RunFailed {
		t.Fatalf("run status = %q", store.completed.Status)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Fatal("no files should be written when listing fails")
	}
}

func TestPipeline_DocumentSkipReasons(t *testing.T) {
	march := "/vb/visa-bulletin-for-march-2023.html"
	april := "/vb/visa-bulletin-for-april-2023.html"
	may := "/vb/visa-bulletin-for-may-2023.html"

	ragged := familyTableHTML("", []string{"Family-Sponsored", "INDIA"}, [][]string{{"F1", "01JAN15", "x"}})
	good := familyTableHTML("", standardHeader, uniformRows(map[string]string{"F1": "01JAN15"}, "F1"))

	mock := &MockFetcher{Data: map[string][]byte{
		testListingURL: []byte(listingHTML([]string{march, april, may})),
	}}
	mock.Data["https://travel.state.gov"+march] = []byte(pageHTML(ragged))
	mock.Data["https://travel.state.gov"+april] = []byte(pageHTML())
	mock.Data["https://travel.state.gov"+may] = []byte(pageHTML(good))

	report, err := NewPipeline(testConfig(t.TempDir()), mock, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{ReasonExtractFailed, ReasonNoFamilyTables, ""}
	for i, reason := range want {
		if report.Documents[i].Reason != reason {
			t.Errorf("document %d reason = %q, want %q", i, report.Documents[i].Reason, reason)
		}
	}
	if !errors.Is(report.Documents[0].Err, ErrRowWidth) {
		t.Fatalf("expected ErrRowWidth, got %v", report.Documents[0].Err)
	}
	for _, cr := range report.Countries {
		if len(cr.Rows) != 1 {
			t.Errorf("%s rows = %d, want 1", cr.Country, len(cr.Rows))
		}
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	mock, _ := bulletinSite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPipeline(testConfig(t.TempDir()), mock, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type recordingStore struct {
	mu        sync.Mutex
	runID     uuid.UUID
	completed models.IngestRun
	countries map[string][]models.BacklogPoint
	failFor   string
}

func (s *recordingStore) CreateRun(ctx context.Context) (uuid.UUID, error) {
	s.runID = uuid.New()
	return s.runID, nil
}

func (s *recordingStore) CompleteRun(ctx context.Context, run models.IngestRun) error {
	s.completed = run
	return nil
}

func (s *recordingStore) ReplaceCountry(ctx context.Context, runID uuid.UUID, country string, points []models.BacklogPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if country == s.failFor {
		return errors.New("disk full")
	}
	if s.countries == nil {
		s.countries = map[string][]models.BacklogPoint{}
	}
	s.countries[country] = points
	return nil
}

func TestPipeline_Store(t *testing.T) {
	mock, _ := bulletinSite(t)
	store := &recordingStore{failFor: CountryChina}

	report, err := NewPipeline(testConfig(t.TempDir()), mock, store).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store china") {
		t.Fatalf("expected the china store failure, got %v", err)
	}
	if report.RunID != store.runID {
		t.Fatalf("run id = %s, want %s", report.RunID, store.runID)
	}
	if store.completed.Status != models.RunFailed || store.completed.DocumentsOK != 10 || store.completed.Tables != 20 {
		t.Fatalf("completed run = %+v", store.completed)
	}

	india := store.countries[CountryIndia]
	if len(india) != 70 {
		t.Fatalf("stored %d india points, want 70", len(india))
	}
	for i, p := range india {
		if p.Position != i || p.RunID != store.runID || p.Country != CountryIndia {
			t.Fatalf("point %d = %+v", i, p)
		}
	}
	if _, stored := store.countries[CountryMexico]; !stored {
		t.Fatal("a failed country should not stop later ones")
	}
}

func TestToPoints(t *testing.T) {
	runID := uuid.New()
	rows := []BacklogRow{
		{Level: LevelF1, BulletinDate: date(2023, time.March, 1), Kind: TableFinalAction, WaitYears: ptr(1)},
		{Level: LevelF2A, BulletinDate: date(2023, time.March, 1), Kind: TableDatesForFiling},
	}
	points := ToPoints(CountryMexico, runID, rows)
	if len(points) != 2 || points[1].Position != 1 || points[1].TableType != "dates_for_filing" || points[0].RunID != runID {
		t.Fatalf("points = %+v", points)
	}
}
