// Package cli implements the backlog command-line interface.
//
// The scrape command lists every published visa bulletin, extracts the family-sponsored
// tables, and writes one backlog time course per country as CSV, optionally mirroring the
// result into Postgres. A summary table (or JSON) of the run is printed at the end.
package cli
