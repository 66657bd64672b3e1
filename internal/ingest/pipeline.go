package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/visa-backlog/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BacklogStore persists finished time courses. internal/db.Store implements it.
type BacklogStore interface {
	CreateRun(ctx context.Context) (uuid.UUID, error)
	CompleteRun(ctx context.Context, run models.IngestRun) error
	ReplaceCountry(ctx context.Context, runID uuid.UUID, country string, points []models.BacklogPoint) error
}

// IngestionStats summarizes a run.
type IngestionStats struct {
	TotalFound int // documents listed
	TotalSaved int // backlog rows written across countries
	Errors     int // skipped documents plus failed country writes
}

// DocumentOutcome is what happened to one listed bulletin.
type DocumentOutcome struct {
	Link   string `json:"link"`
	URL    string `json:"url"`
	Tables int    `json:"tables"`
	Outcome

	tables []NormalizedTable
}

// CountryReport is one country's backlog plus where it was written.
type CountryReport struct {
	BacklogResult
	Path string
	Err  error
}

// RunReport describes a finished run.
type RunReport struct {
	RunID     uuid.UUID
	StartedAt time.Time
	Duration  time.Duration
	Documents []DocumentOutcome
	Countries []CountryReport
	Stats     IngestionStats
}

// DocumentsOK counts documents that contributed tables.
func (r *RunReport) DocumentsOK() int {
	n := 0
	for _, d := range r.Documents {
		if d.Status == OutcomeOK {
			n++
		}
	}
	return n
}

// DocumentsSkipped counts documents that contributed nothing.
func (r *RunReport) DocumentsSkipped() int {
	return len(r.Documents) - r.DocumentsOK()
}

// TableCount is the number of tables extracted across all documents.
func (r *RunReport) TableCount() int {
	n := 0
	for _, d := range r.Documents {
		n += d.Tables
	}
	return n
}

// SkipReasons counts skipped documents per reason.
func (r *RunReport) SkipReasons() map[string]int {
	reasons := make(map[string]int)
	for _, d := range r.Documents {
		if d.Status == OutcomeSkipped {
			reasons[d.Reason]++
		}
	}
	return reasons
}

type Pipeline struct {
	Config  *Config
	Fetcher Fetcher
	Store   BacklogStore // optional
	Output  OutputWriter
	Policy  TableKindPolicy
}

// NewPipeline wires a pipeline from configuration. A nil fetcher selects the
// configured one; a nil store disables persistence.
func NewPipeline(cfg *Config, fetcher Fetcher, store BacklogStore) *Pipeline {
	if fetcher == nil {
		fetcher = cfg.NewFetcher()
	}
	var policy TableKindPolicy = DefaultTableKinds
	if p, err := cfg.Policy(); err == nil {
		policy = p
	} else {
		log.Warn().Err(err).Msg("Invalid table_kinds, using default order")
	}
	return &Pipeline{
		Config:  cfg,
		Fetcher: fetcher,
		Store:   store,
		Output:  FileOutput{Dir: cfg.OutputDir, Pattern: cfg.OutputPattern},
		Policy:  policy,
	}
}

// Run lists every bulletin, extracts each document once in listing order, then builds
// and writes every configured country. Only a failure to list documents, a cancelled
// context or a failed write ends the run with an error; a bad document is skipped.
func (p *Pipeline) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{StartedAt: time.Now().UTC()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		runDurationSeconds.Observe(report.Duration.Seconds())
	}()

	if p.Store != nil {
		runID, err := p.Store.CreateRun(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create ingest run, continuing without persistence")
		} else {
			report.RunID = runID
		}
	}

	links, err := ListDocumentsFromURL(ctx, p.Fetcher, p.Config.ListingURL)
	if err != nil {
		err = fmt.Errorf("list documents: %w", err)
		p.completeRun(ctx, report, err)
		return report, err
	}
	report.Stats.TotalFound = len(links)
	log.Info().Int("documents", len(links)).Str("listing_url", p.Config.ListingURL).Msg("Listed bulletins")

	var tables []NormalizedTable
	for i, link := range links {
		if err := ctx.Err(); err != nil {
			p.completeRun(ctx, report, err)
			return report, err
		}
		outcome := p.processDocument(ctx, link)
		documentsProcessedTotal.WithLabelValues(string(outcome.Status), outcome.Reason).Inc()

		if outcome.Status == OutcomeSkipped {
			report.Stats.Errors++
			log.Warn().
				Err(outcome.Err).
				Str("link", link).
				Str("reason", outcome.Reason).
				Int("document", i+1).
				Msg("Skipped bulletin")
		} else {
			log.Debug().Str("link", link).Int("tables", outcome.Tables).Msg("Extracted bulletin")
		}
		tables = append(tables, outcome.tables...)
		outcome.tables = nil
		report.Documents = append(report.Documents, outcome)
	}

	var writeErrs []error
	for _, country := range p.Config.Countries {
		if err := ctx.Err(); err != nil {
			p.completeRun(ctx, report, err)
			return report, err
		}
		cr := p.buildCountry(ctx, report.RunID, country, tables)
		if cr.Err != nil {
			report.Stats.Errors++
			writeErrs = append(writeErrs, cr.Err)
		} else {
			report.Stats.TotalSaved += len(cr.Rows)
		}
		report.Countries = append(report.Countries, cr)
	}

	runErr := errors.Join(writeErrs...)
	p.completeRun(ctx, report, runErr)

	log.Info().
		Int("documents_ok", report.DocumentsOK()).
		Int("documents_skipped", report.DocumentsSkipped()).
		Int("tables", report.TableCount()).
		Int("rows", report.Stats.TotalSaved).
		Msg("Backlog run complete")

	return report, runErr
}

// processDocument fetches and extracts one bulletin. Every failure becomes a skip.
func (p *Pipeline) processDocument(ctx context.Context, link string) DocumentOutcome {
	outcome := DocumentOutcome{Link: link}

	docURL, err := ResolveDocumentURL(p.Config.BaseURL, link)
	if err != nil {
		outcome.Outcome = skipped(ReasonFetchFailed, err)
		return outcome
	}
	outcome.URL = docURL

	fetched, err := p.Fetcher.Fetch(ctx, docURL)
	if err != nil {
		outcome.Outcome = skipped(ReasonFetchFailed, err)
		return outcome
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		outcome.Outcome = skipped(ReasonParseFailed, fmt.Errorf("parse %s: %w", docURL, err))
		return outcome
	}

	tables, err := ExtractTables(doc, link, p.Policy)
	if err != nil {
		outcome.Outcome = skipped(ReasonExtractFailed, err)
		return outcome
	}
	if len(tables) == 0 {
		outcome.Outcome = skipped(ReasonNoFamilyTables, nil)
		return outcome
	}

	for _, t := range tables {
		tablesExtractedTotal.WithLabelValues(string(t.Kind)).Inc()
	}
	outcome.Tables = len(tables)
	outcome.tables = tables
	outcome.Outcome = ok()
	return outcome
}

// buildCountry assembles, writes and optionally stores one country's backlog.
func (p *Pipeline) buildCountry(ctx context.Context, runID uuid.UUID, country string, tables []NormalizedTable) CountryReport {
	cr := CountryReport{BacklogResult: BuildBacklog(country, tables)}

	rowsDroppedTotal.WithLabelValues(country, "unrecognized_level").Add(float64(cr.Dropped))
	rowsDroppedTotal.WithLabelValues(country, "undated").Add(float64(cr.Undated))

	path, err := p.Output.WriteCountry(country, cr.Rows)
	if err != nil {
		cr.Err = fmt.Errorf("write %s: %w", country, err)
		log.Error().Err(err).Str("country", country).Msg("Failed to write backlog")
		return cr
	}
	cr.Path = path
	rowsEmittedTotal.WithLabelValues(country).Add(float64(len(cr.Rows)))

	if p.Store != nil && runID != uuid.Nil {
		if err := p.Store.ReplaceCountry(ctx, runID, country, ToPoints(country, runID, cr.Rows)); err != nil {
			cr.Err = fmt.Errorf("store %s: %w", country, err)
			log.Error().Err(err).Str("country", country).Msg("Failed to store backlog")
			return cr
		}
	}

	log.Info().
		Str("country", country).
		Int("rows", len(cr.Rows)).
		Int("dropped", cr.Dropped).
		Str("path", path).
		Msg("Wrote backlog")
	return cr
}

func (p *Pipeline) completeRun(ctx context.Context, report *RunReport, runErr error) {
	if p.Store == nil || report.RunID == uuid.Nil {
		return
	}
	run := models.IngestRun{
		ID:               report.RunID,
		Status:           models.RunCompleted,
		DocumentsOK:      report.DocumentsOK(),
		DocumentsSkipped: report.DocumentsSkipped(),
		Tables:           report.TableCount(),
		Rows:             report.Stats.TotalSaved,
	}
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}
	// The run context may already be cancelled; record the outcome regardless.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.Store.CompleteRun(storeCtx, run); err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID.String()).Msg("Failed to update ingest run")
	}
}

// ToPoints converts backlog rows into storage records, keeping their order.
func ToPoints(country string, runID uuid.UUID, rows []BacklogRow) []models.BacklogPoint {
	points := make([]models.BacklogPoint, len(rows))
	for i, row := range rows {
		points[i] = models.BacklogPoint{
			Country:         country,
			Level:           row.Level,
			FinalActionDate: row.FinalActionDate,
			BulletinDate:    row.BulletinDate,
			TableType:       string(row.Kind),
			WaitYears:       row.WaitYears,
			Position:        i,
			RunID:           runID,
		}
	}
	return points
}
