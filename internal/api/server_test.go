package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/visa-backlog/internal/auth"
	"github.com/david/visa-backlog/internal/db"
	"github.com/david/visa-backlog/internal/ingest"
	"github.com/david/visa-backlog/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	pingErr    error
	points     []models.BacklogPoint
	lastParams db.BacklogParams
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStore) Countries(ctx context.Context) ([]string, error) {
	return []string{"india"}, nil
}

func (f *fakeStore) ListBacklog(ctx context.Context, params db.BacklogParams) ([]models.BacklogPoint, error) {
	f.lastParams = params
	return f.points, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context) (*ingest.RunReport, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return &ingest.RunReport{
		Documents: []ingest.DocumentOutcome{
			{Link: "a", Tables: 2, Outcome: ingest.Outcome{Status: ingest.OutcomeOK}},
			{Link: "b", Outcome: ingest.Outcome{Status: ingest.OutcomeSkipped, Reason: ingest.ReasonFetchFailed}},
		},
	}, f.err
}

const testSecret = "let-me-in"

func newTestServer(t *testing.T, store *fakeStore, runner IngestRunner) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := auth.NewService(string(hash), "api-test-key")
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(store, svc, runner)
}

func do(t *testing.T, s *Server, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func issueToken(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/auth/token", `{"secret":"`+testSecret+`"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("token status %d: %s", rec.Code, rec.Body.String())
	}
	var resp auth.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)
	if rec := do(t, s, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}

	s = newTestServer(t, &fakeStore{pingErr: errors.New("down")}, nil)
	if rec := do(t, s, http.MethodGet, "/health", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with db down = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)
	rec := do(t, s, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("expected default collectors in metrics output")
	}
}

func TestBacklog_Filters(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(t, store, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/backlog/India?level=F2A&table_type=final_action&limit=5", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	want := db.BacklogParams{Country: "india", Level: "2A", TableType: "final_action", Limit: 5}
	if store.lastParams != want {
		t.Fatalf("params = %+v, want %+v", store.lastParams, want)
	}
}

func TestBacklog_Rejects(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/backlog/atlantis", http.StatusNotFound},
		{"/api/v1/backlog/india?level=5th", http.StatusBadRequest},
		{"/api/v1/backlog/india?table_type=weekly", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodGet, tt.target, "", ""); rec.Code != tt.want {
			t.Fatalf("%s = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestBacklog_CSV(t *testing.T) {
	bulletin := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{points: []models.BacklogPoint{
		{Country: "row", Level: "1", BulletinDate: bulletin, FinalActionDate: &bulletin, TableType: "final_action", WaitYears: new(float64)},
	}}
	s := newTestServer(t, store, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/backlog/row?format=csv", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	want := "F_level,final_action_dates,visa_bulletin_date,table_type,visa_wait_time\n1,2023-03-01,2023-03-01,final_action,0\n"
	if rec.Body.String() != want {
		t.Fatalf("csv = %q, want %q", rec.Body.String(), want)
	}
}

func TestToken_WrongSecret(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/auth/token", `{"secret":"guess"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestIngest_RequiresToken(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeRunner{})
	if rec := do(t, s, http.MethodPost, "/api/v1/ingest", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestIngest_JobLifecycle(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := newTestServer(t, &fakeStore{}, runner)
	token := issueToken(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/ingest", "", token)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger status %d: %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	jobID := started["job_id"]

	// A second trigger while running is rejected.
	if rec := do(t, s, http.MethodPost, "/api/v1/ingest", "", token); rec.Code != http.StatusConflict {
		t.Fatalf("second trigger status %d", rec.Code)
	}

	close(runner.release)
	s.jobMu.Lock()
	done := s.runningJob.done
	s.jobMu.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}

	rec = do(t, s, http.MethodGet, "/api/v1/ingest/jobs/"+jobID, "", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status %d", rec.Code)
	}
	var status struct {
		Status string         `json:"status"`
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "completed" {
		t.Fatalf("job status = %q", status.Status)
	}
	if status.Result["documents_ok"] != float64(1) || status.Result["documents_skipped"] != float64(1) {
		t.Fatalf("unexpected result: %+v", status.Result)
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/ingest/jobs/unknown", "", token); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status %d", rec.Code)
	}
}
