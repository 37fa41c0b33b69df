// Package store provides the report storage interface and SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/promptscope/internal/model"
)

// ErrNotFound is returned when no report matches an id.
var ErrNotFound = errors.New("report not found")

// SaveParams holds parameters for storing a report.
type SaveParams struct {
	Report *model.Report
	// Label overrides the report's label when set.
	Label string
}

// ListParams holds parameters for listing reports.
type ListParams struct {
	Label     string
	Recursive bool // only reports with recursive activations
	Limit     int
}

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Label        string    `json:"label,omitempty"`
	Tokenizer    string    `json:"tokenizer"`
	TotalTokens  int       `json:"total_tokens"`
	Sections     int       `json:"sections"`
	Triggers     int       `json:"triggers"`
	HasRecursion bool      `json:"has_recursion"`
}

// Store defines the report storage interface.
type Store interface {
	// Save stores a new report. A report without an id is assigned one.
	Save(ctx context.Context, p SaveParams) (*model.Report, error)

	// Get retrieves a report by id, or the newest one for "latest".
	Get(ctx context.Context, id string) (*model.Report, error)

	// List lists reports, newest first.
	List(ctx context.Context, p ListParams) ([]ReportSummary, error)

	// Update replaces a stored report's contents, e.g. after a recount.
	Update(ctx context.Context, rep *model.Report) error

	// Rm deletes a report and its rows.
	Rm(ctx context.Context, id string) error

	// Close closes the store.
	Close() error
}
