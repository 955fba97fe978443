package domain

import "context"

// PositionStore persists tracked positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, filter PositionFilter) ([]Position, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) ([]Position, error)

	// ApplyEvaluation writes the monitor's view of pos and, when alert is
	// non-nil, inserts it, as one unit. The write only succeeds while the
	// stored row is still ACTIVE at pos.Version; otherwise ErrConflict is
	// returned and nothing is written. alertCreated is false when a
	// deduplicated alert of the same type already exists.
	ApplyEvaluation(ctx context.Context, pos Position, alert *Alert) (alertCreated bool, err error)
}

// AlertStore persists alerts.
type AlertStore interface {
	// Create inserts alert. created is false when a deduplicated alert of
	// the same type already exists for the position; an existing ID is
	// ErrAlreadyExists.
	Create(ctx context.Context, alert Alert) (created bool, err error)
	GetByID(ctx context.Context, id string) (Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
	MarkRead(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) ([]Alert, error)
}

// SignalStore persists prediction history for reversal detection.
type SignalStore interface {
	Append(ctx context.Context, rec SignalRecord) error
	// Recent returns up to n records for symbol/timeframe, newest first.
	Recent(ctx context.Context, symbol, timeframe string, n int) ([]SignalRecord, error)
}
