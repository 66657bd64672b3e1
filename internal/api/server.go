package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/david/visa-backlog/internal/auth"
	"github.com/david/visa-backlog/internal/db"
	"github.com/david/visa-backlog/internal/ingest"
	"github.com/david/visa-backlog/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// BacklogReader is the read side of the store used by the handlers.
type BacklogReader interface {
	Ping(ctx context.Context) error
	Countries(ctx context.Context) ([]string, error)
	ListBacklog(ctx context.Context, params db.BacklogParams) ([]models.BacklogPoint, error)
}

// IngestRunner runs one full scrape. *ingest.Pipeline implements it.
type IngestRunner interface {
	Run(ctx context.Context) (*ingest.RunReport, error)
}

type Server struct {
	Store       BacklogReader
	AuthService *auth.Service
	Runner      IngestRunner
	Echo        *echo.Echo

	JobTimeout time.Duration

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
	done      chan struct{}
}

func NewServer(store BacklogReader, authService *auth.Service, runner IngestRunner) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s := &Server{
		Store:       store,
		AuthService: authService,
		Runner:      runner,
		Echo:        e,
		JobTimeout:  30 * time.Minute,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/countries", s.handleCountries)
	api.GET("/backlog/:country", s.handleBacklog)
	api.POST("/auth/token", s.handleToken)

	admin := api.Group("")
	admin.Use(s.AuthService.Middleware)
	admin.POST("/ingest", s.handleTriggerIngest)
	admin.GET("/ingest/jobs/:id", s.handleJobStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "database unavailable"})
	}
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleCountries(c echo.Context) error {
	stored, err := s.Store.Countries(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("List countries failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list countries"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"countries": ingest.KnownCountries,
		"stored":    stored,
	})
}

func (s *Server) handleBacklog(c echo.Context) error {
	country := strings.ToLower(c.Param("country"))
	if err := ingest.ValidateCountry(country); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}

	params := db.BacklogParams{Country: country}
	if raw := strings.TrimSpace(c.QueryParam("level")); raw != "" {
		level, found := ingest.NormalizeLevel(raw)
		if !found {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown level %q", raw)})
		}
		params.Level = level
	}
	if raw := strings.TrimSpace(c.QueryParam("table_type")); raw != "" {
		kind := ingest.TableKind(raw)
		if kind != ingest.TableFinalAction && kind != ingest.TableDatesForFiling {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown table_type %q", raw)})
		}
		params.TableType = raw
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			params.Limit = parsed
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			params.Offset = parsed
		}
	}

	points, err := s.Store.ListBacklog(c.Request().Context(), params)
	if err != nil {
		log.Error().Err(err).Str("country", country).Msg("List backlog failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load backlog"})
	}

	if c.QueryParam("format") == "csv" {
		c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", fmt.Sprintf(ingest.DefaultOutputPattern, country)))
		c.Response().WriteHeader(http.StatusOK)
		return ingest.WriteBacklogCSV(c.Response(), pointsToRows(points))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"country": country,
		"points":  points,
		"count":   len(points),
	})
}

func pointsToRows(points []models.BacklogPoint) []ingest.BacklogRow {
	rows := make([]ingest.BacklogRow, len(points))
	for i, p := range points {
		rows[i] = ingest.BacklogRow{
			Level:           p.Level,
			FinalActionDate: p.FinalActionDate,
			BulletinDate:    p.BulletinDate,
			Kind:            ingest.TableKind(p.TableType),
			WaitYears:       p.WaitYears,
		}
	}
	return rows
}

type tokenRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.IssueToken(req.Secret)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCreds):
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTriggerIngest(c echo.Context) error {
	if s.Runner == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ingestion is not configured"})
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "An ingest job is already running",
			"job_id": job.ID,
		})
	}

	// Detached from the request so the job outlives it.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), s.JobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
		done:      make(chan struct{}),
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer close(job.done)
		defer jobCancel()

		report, err := s.Runner.Run(jobCtx)

		s.jobMu.Lock()
		job.EndedAt = time.Now()
		if report != nil {
			job.Result = summarizeReport(report)
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
		} else {
			job.Status = "completed"
		}
		s.jobMu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("Ingest job failed")
			return
		}
		log.Info().Str("job_id", jobID).Msg("Ingest job completed")
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Ingest job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/ingest/jobs/%s", jobID),
	})
}

func summarizeReport(report *ingest.RunReport) map[string]any {
	countries := make(map[string]int, len(report.Countries))
	for _, cr := range report.Countries {
		countries[cr.Country] = len(cr.Rows)
	}
	result := map[string]any{
		"documents_ok":      report.DocumentsOK(),
		"documents_skipped": report.DocumentsSkipped(),
		"skip_reasons":      report.SkipReasons(),
		"tables":            report.TableCount(),
		"rows":              countries,
	}
	if report.RunID != uuid.Nil {
		result["run_id"] = report.RunID.String()
	}
	return result
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// Shutdown cancels a running job and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}
