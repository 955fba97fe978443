package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, timeframe, position_type,
	entry_price, entry_time, current_price, current_pnl_percent,
	status, profit_target, loss_limit, version, created_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string

	err := row.Scan(
		&p.ID, &p.Symbol, &p.Timeframe, &direction,
		&p.EntryPrice, &p.EntryTime, &p.CurrentPrice, &p.CurrentPnLPercent,
		&status, &p.ProfitTarget, &p.LossLimit, &p.Version,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, timeframe, position_type,
			entry_price, entry_time, status, profit_target, loss_limit,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			0, COALESCE($10, NOW()), NOW()
		)`

	var createdAt any
	if !p.CreatedAt.IsZero() {
		createdAt = p.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.Timeframe, string(p.Direction),
		p.EntryPrice, p.EntryTime, string(p.Status), p.ProfitTarget, p.LossLimit,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// List returns positions matching f, newest entry first.
func (s *PositionStore) List(ctx context.Context, f domain.PositionFilter) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if sym := domain.NormalizeSymbol(f.Symbol); sym != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, sym)
		argIdx++
	}
	if f.Timeframe != "" {
		query += fmt.Sprintf(" AND timeframe = $%d", argIdx)
		args = append(args, f.Timeframe)
		argIdx++
	}

	query += " ORDER BY entry_time DESC, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// Delete removes a position. Its alerts survive with position_id cleared.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAll removes every position and returns the deleted rows.
func (s *PositionStore) DeleteAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM positions RETURNING `+positionSelectCols)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete all positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deleted positions: %w", err)
	}
	return positions, nil
}

// ApplyEvaluation updates the monitored fields of p and inserts alert in one
// transaction. The update only matches an ACTIVE row at p.Version.
func (s *PositionStore) ApplyEvaluation(ctx context.Context, p domain.Position, alert *domain.Alert) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin evaluation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE positions SET
			current_price       = $3,
			current_pnl_percent = $4,
			status              = $5,
			version             = version + 1,
			updated_at          = NOW()
		WHERE id = $1 AND version = $2 AND status = 'ACTIVE'`

	tag, err := tx.Exec(ctx, update,
		p.ID, p.Version, p.CurrentPrice, p.CurrentPnLPercent, string(p.Status),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: apply evaluation %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, domain.ErrConflict
	}

	created := false
	if alert != nil {
		created, err = insertAlert(ctx, tx, *alert)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit evaluation %s: %w", p.ID, err)
	}
	return created, nil
}
