package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Append records one prediction.
func (s *SignalStore) Append(ctx context.Context, rec domain.SignalRecord) error {
	const query = `
		INSERT INTO signal_history (id, symbol, timeframe, prediction, price, accuracy, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Symbol, rec.Timeframe, rec.Prediction, rec.Price, rec.Accuracy, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append signal %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to n records for symbol/timeframe, newest first.
func (s *SignalStore) Recent(ctx context.Context, symbol, timeframe string, n int) ([]domain.SignalRecord, error) {
	if n <= 0 {
		n = 1
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, timeframe, prediction, price, accuracy, created_at
		FROM signal_history
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		domain.NormalizeSymbol(symbol), timeframe, n,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent signals: %w", err)
	}
	defer rows.Close()

	var out []domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		var prediction int16
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Timeframe, &prediction, &r.Price, &r.Accuracy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		r.Prediction = int(prediction)
		out = append(out, r)
	}
	return out, rows.Err()
}
