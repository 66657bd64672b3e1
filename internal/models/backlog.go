package models

import (
	"time"

	"github.com/google/uuid"
)

// BacklogPoint is one family level's cutoff in one bulletin table for one country.
type BacklogPoint struct {
	Country         string     `json:"country"`
	Level           string     `json:"f_level"`
	FinalActionDate *time.Time `json:"final_action_date"`
	BulletinDate    time.Time  `json:"visa_bulletin_date"`
	TableType       string     `json:"table_type"`
	WaitYears       *float64   `json:"visa_wait_time"`
	Position        int        `json:"-"`
	RunID           uuid.UUID  `json:"run_id"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// IngestRun records one scrape of the bulletin archive.
type IngestRun struct {
	ID               uuid.UUID  `json:"id"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DocumentsOK      int        `json:"documents_ok"`
	DocumentsSkipped int        `json:"documents_skipped"`
	Tables           int        `json:"tables"`
	Rows             int        `json:"rows"`
	Error            string     `json:"error,omitempty"`
}
