package ingest

import "errors"

var (
	// ErrNoHeaderRow means a table opened with a caption row and had nothing after it.
	ErrNoHeaderRow = errors.New("table has no header row")
	// ErrRowWidth means the data rows of a table do not line up with its header.
	ErrRowWidth = errors.New("table rows do not match header width")
	// ErrUnknownCountry is returned for country keys outside the configured set.
	ErrUnknownCountry = errors.New("unknown country")
	// ErrMissingColumn means a table lacks a column the projection needs.
	ErrMissingColumn = errors.New("missing column")
)
