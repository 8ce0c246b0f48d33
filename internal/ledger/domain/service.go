package domain

import (
	"context"
	"errors"
)

var (
	ErrUnknownRow           = errors.New("unknown_row")
	ErrInvalidOwner         = errors.New("invalid_owner")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrConcurrentAdjustment = errors.New("concurrent_adjustment")
	ErrForbidden            = errors.New("forbidden")
)

// RowDelta is one accumulation against a table row. Negative deltas reverse
// earlier credits.
type RowDelta struct {
	RowID      string
	CountDelta int64
	ValueDelta float64
}

type Service interface {
	// Find returns the table for a manager and period, or nil when none
	// exists. It never writes.
	Find(ctx context.Context, accountManager string, month, year int) (*Table, error)

	// GetOrCreate loads the table for a manager and period, creating it with
	// default rows when absent and backfilling rows added since creation.
	GetOrCreate(ctx context.Context, accountManager string, month, year int) (*Table, error)

	// Get returns the viewer-facing table, enforcing that affiliate managers
	// only read their own.
	Get(ctx context.Context, accountManager string, month, year int) (*Table, error)

	// List returns every table for a period.
	List(ctx context.Context, month, year int) ([]*Table, error)

	// Adjust applies deltas atomically under optimistic concurrency.
	Adjust(ctx context.Context, accountManager string, month, year int, deltas []RowDelta) (*Table, error)
}
