package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/david/visa-backlog/internal/db"
	"github.com/david/visa-backlog/internal/logging"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
)

func main() {
	limit := flag.Int("limit", 10, "number of runs to show")
	flag.Parse()
	logging.FromEnv()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	runs, err := db.NewStore(pool).ListRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Status", "Docs OK", "Skipped", "Tables", "Rows", "Duration", "Started At", "Error"})

	for _, r := range runs {
		duration := "Running..."
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.ID.String()[:8], r.Status, r.DocumentsOK, r.DocumentsSkipped, r.Tables, r.Rows,
			duration, r.StartedAt.Format("2006-01-02 15:04:05"), r.Error,
		})
	}
	t.Render()
}
