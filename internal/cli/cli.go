package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/visa-backlog/internal/auth"
	"github.com/david/visa-backlog/internal/db"
	"github.com/david/visa-backlog/internal/ingest"
	"github.com/david/visa-backlog/internal/logging"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

type scrapeOptions struct {
	configPath string
	outDir     string
	fetcher    string
	cacheDir   string
	countries  []string
	useDB      bool
	format     string
}

type rootOptions struct {
	logLevel  string
	logFormat string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Build family visa backlog time courses from the monthly visa bulletins",
		Long: `Scrapes every published visa bulletin, extracts the family-sponsored cutoff
tables and writes, per country, how far behind each family preference level is.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := opts.logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			format := opts.logFormat
			if format == "" {
				format = os.Getenv("LOG_FORMAT")
			}
			logging.SetupWriter(cmd.ErrOrStderr(), level, format)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console or json; defaults to LOG_FORMAT")

	cmd.AddCommand(newScrapeCmd(), newInspectCmd(), newCountriesCmd(), newHashSecretCmd())
	return cmd
}

func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape all bulletins and write one CSV per country",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrape(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to a bulletins.yaml (default: embedded)")
	cmd.Flags().StringVar(&opts.outDir, "out", "", "Output directory (overrides output_dir)")
	cmd.Flags().StringVar(&opts.fetcher, "fetcher", "", "Fetcher: http or colly (overrides fetcher)")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Colly response cache directory (overrides cache_dir)")
	cmd.Flags().StringSliceVar(&opts.countries, "countries", nil, "Comma-separated country keys (default: all configured)")
	cmd.Flags().BoolVar(&opts.useDB, "db", false, "Also store results in Postgres (DATABASE_URL)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "Summary format: text or json")
	return cmd
}

// applyOverrides folds command-line flags into the loaded configuration.
func (o *scrapeOptions) applyOverrides(cfg *ingest.Config) error {
	if o.outDir != "" {
		cfg.OutputDir = o.outDir
	}
	if o.fetcher != "" {
		cfg.Fetcher = strings.ToLower(o.fetcher)
	}
	if o.cacheDir != "" {
		cfg.CacheDir = o.cacheDir
	}
	if len(o.countries) > 0 {
		cfg.Countries = nil
		for _, c := range o.countries {
			cfg.Countries = append(cfg.Countries, strings.ToLower(strings.TrimSpace(c)))
		}
	}
	return cfg.Validate()
}

func runScrape(cmd *cobra.Command, opts *scrapeOptions) error {
	format := OutputFormat(strings.ToLower(opts.format))
	if format != FormatText && format != FormatJSON {
		return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", opts.format)
	}

	cfg, err := ingest.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := opts.applyOverrides(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var store ingest.BacklogStore
	if opts.useDB {
		pool, err := db.Connect(ctx)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		store = db.NewStore(pool)
	}

	fetcher := cfg.NewFetcher()
	if closer, isCloser := fetcher.(interface{ Close() }); isCloser {
		defer closer.Close()
	}

	pipeline := ingest.NewPipeline(cfg, fetcher, store)
	report, runErr := pipeline.Run(ctx)
	if report != nil {
		if err := WriteSummary(cmd.OutOrStdout(), Summarize(report), format); err != nil {
			return fmt.Errorf("writing summary: %w", err)
		}
	}
	return runErr
}

func newInspectCmd() *cobra.Command {
	var link string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Extract the family tables of one saved bulletin page",
		Long: `Runs table extraction on a bulletin saved to disk and prints every table found.
The bulletin month is read from --link, or from the file name when --link is empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			doc, err := goquery.NewDocumentFromReader(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			if link == "" {
				link = filepath.Base(args[0])
			}
			tables, err := ingest.ExtractTables(doc, link, ingest.DefaultTableKinds)
			if err != nil {
				return fmt.Errorf("extracting tables: %w", err)
			}
			if len(tables) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No family-sponsored tables found.")
				return nil
			}

			for _, nt := range tables {
				bulletin := "unknown"
				if nt.BulletinDate != nil {
					bulletin = nt.BulletinDate.Format("2006-01-02")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (bulletin %s)\n", nt.Kind, bulletin)

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				header := table.Row{}
				for _, col := range nt.Columns {
					header = append(header, col)
				}
				t.AppendHeader(header)
				for _, r := range nt.Rows {
					row := table.Row{}
					for _, cell := range r {
						row = append(row, cell)
					}
					t.AppendRow(row)
				}
				t.Render()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&link, "link", "", "Bulletin link the page was saved from, e.g. visa-bulletin-for-march-2023.html")
	return cmd
}

func newCountriesCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "countries",
		Short: "List the country keys and the column heading each one matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ingest.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Key", "Matches Column", "Output File"})
			out := ingest.FileOutput{Dir: cfg.OutputDir, Pattern: cfg.OutputPattern}
			for _, c := range cfg.Countries {
				t.AppendRow(table.Row{c, ingest.LookupText(c), out.Path(c)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a bulletins.yaml (default: embedded)")
	return cmd
}

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret SECRET",
		Short: "Print the bcrypt hash to set as ADMIN_SECRET_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
