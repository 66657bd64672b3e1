package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/david/visa-backlog/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

// CreateRun inserts a running ingest run and returns its id.
func (s *Store) CreateRun(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		"INSERT INTO ingest_runs (id, status, started_at) VALUES ($1, $2, $3)",
		pgUUID(id), models.RunRunning, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create ingest run: %w", err)
	}
	return id, nil
}

// CompleteRun records the final status and counts of a run.
func (s *Store) CompleteRun(ctx context.Context, run models.IngestRun) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs
		SET status = $2, finished_at = $3, documents_ok = $4, documents_skipped = $5,
			tables_extracted = $6, rows_written = $7, error = NULLIF($8, '')
		WHERE id = $1`,
		pgUUID(run.ID), run.Status, finished, run.DocumentsOK, run.DocumentsSkipped,
		run.Tables, run.Rows, run.Error)
	if err != nil {
		return fmt.Errorf("complete ingest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete ingest run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

var backlogCopyColumns = []string{
	"country", "f_level", "final_action_date", "visa_bulletin_date",
	"table_type", "visa_wait_time", "position", "run_id",
}

// ReplaceCountry swaps a country's stored time course for points in one transaction.
// Points keep their slice order through the position column.
func (s *Store) ReplaceCountry(ctx context.Context, runID uuid.UUID, country string, points []models.BacklogPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", country, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM backlog_points WHERE country = $1", country); err != nil {
		return fmt.Errorf("clear %s: %w", country, err)
	}

	rows := make([][]any, len(points))
	for i, p := range points {
		rows[i] = []any{
			country, p.Level, p.FinalActionDate, p.BulletinDate,
			p.TableType, p.WaitYears, i, pgUUID(runID),
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backlog_points"}, backlogCopyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy %s points: %w", country, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace %s: %w", country, err)
	}
	return nil
}

// BacklogParams filters ListBacklog.
type BacklogParams struct {
	Country   string
	Level     string
	TableType string
	Limit     int
	Offset    int
}

const maxBacklogLimit = 5000

// buildBacklogQuery returns the SELECT for params, newest bulletin first.
func buildBacklogQuery(params BacklogParams) (string, []any) {
	where := "WHERE country = $1"
	args := []any{params.Country}
	argIdx := 2

	if params.Level != "" {
		where += fmt.Sprintf(" AND f_level = $%d", argIdx)
		args = append(args, params.Level)
		argIdx++
	}
	if params.TableType != "" {
		where += fmt.Sprintf(" AND table_type = $%d", argIdx)
		args = append(args, params.TableType)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 || limit > maxBacklogLimit {
		limit = maxBacklogLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT country, f_level, final_action_date, visa_bulletin_date, table_type, visa_wait_time, position, run_id
		FROM backlog_points %s
		ORDER BY position
		LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)
	return query, args
}

// ListBacklog returns a country's stored points in written order.
func (s *Store) ListBacklog(ctx context.Context, params BacklogParams) ([]models.BacklogPoint, error) {
	query, args := buildBacklogQuery(params)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	defer rows.Close()

	points := []models.BacklogPoint{}
	for rows.Next() {
		var p models.BacklogPoint
		var runID pgtype.UUID
		if err := rows.Scan(&p.Country, &p.Level, &p.FinalActionDate, &p.BulletinDate,
			&p.TableType, &p.WaitYears, &p.Position, &runID); err != nil {
			return nil, fmt.Errorf("scan backlog point: %w", err)
		}
		if runID.Valid {
			p.RunID = uuid.UUID(runID.Bytes)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Countries lists the countries that have stored points.
func (s *Store) Countries(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT country FROM backlog_points ORDER BY country")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	countries := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

const runColumns = `id, status, started_at, finished_at, documents_ok, documents_skipped,
	tables_extracted, rows_written, COALESCE(error, '')`

func scanRun(scan func(dest ...any) error) (models.IngestRun, error) {
	var r models.IngestRun
	var id pgtype.UUID
	err := scan(&id, &r.Status, &r.StartedAt, &r.FinishedAt, &r.DocumentsOK,
		&r.DocumentsSkipped, &r.Tables, &r.Rows, &r.Error)
	if err != nil {
		return r, err
	}
	r.ID = uuid.UUID(id.Bytes)
	return r, nil
}

// ListRuns returns the most recent ingest runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+runColumns+" FROM ingest_runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.IngestRun{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one ingest run.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		"SELECT "+runColumns+" FROM ingest_runs WHERE id = $1", pgUUID(id)).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}
