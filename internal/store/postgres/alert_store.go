package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates a new AlertStore backed by the given connection pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const alertSelectCols = `id, position_id, alert_type, message, triggered_at, is_read`

// insertAlert inserts a and reports whether a row was written. Duplicate
// threshold alerts hit uq_alerts_position_threshold and are dropped; any
// other unique violation, such as a reused id, is ErrAlreadyExists.
func insertAlert(ctx context.Context, db execer, a domain.Alert) (bool, error) {
	tag, err := db.Exec(ctx, insertAlertSQL,
		a.ID, a.PositionID, string(a.Type), a.Message, nullTime(a.TriggeredAt), a.IsRead,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("postgres: insert alert %s: %w", a.ID, domain.ErrAlreadyExists)
		}
		return false, fmt.Errorf("postgres: insert alert %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// insertAlertSQL names uq_alerts_position_threshold as the only conflict
// that is silently skipped.
const insertAlertSQL = `
		INSERT INTO alerts (id, position_id, alert_type, message, triggered_at, is_read)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), $6)
		ON CONFLICT (position_id, alert_type)
			WHERE alert_type IN ('PROFIT_TARGET', 'LOSS_LIMIT')
			DO NOTHING`

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var a domain.Alert
	var alertType string
	if err := row.Scan(&a.ID, &a.PositionID, &alertType, &a.Message, &a.TriggeredAt, &a.IsRead); err != nil {
		return domain.Alert{}, err
	}
	a.Type = domain.AlertType(alertType)
	return a, nil
}

func scanAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Create inserts an alert. A duplicate threshold alert is not an error and
// reports false.
func (s *AlertStore) Create(ctx context.Context, a domain.Alert) (bool, error) {
	return insertAlert(ctx, s.pool, a)
}

// GetByID retrieves a single alert.
func (s *AlertStore) GetByID(ctx context.Context, id string) (domain.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx,
		`SELECT `+alertSelectCols+` FROM alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Alert{}, domain.ErrNotFound
		}
		return domain.Alert{}, fmt.Errorf("postgres: get alert %s: %w", id, err)
	}
	return a, nil
}

// List returns alerts matching f, most recent first.
func (s *AlertStore) List(ctx context.Context, f domain.AlertFilter) ([]domain.Alert, error) {
	query := `SELECT ` + alertSelectCols + ` FROM alerts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.PositionID != "" {
		query += fmt.Sprintf(" AND position_id = $%d", argIdx)
		args = append(args, f.PositionID)
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND alert_type = $%d", argIdx)
		args = append(args, string(f.Type))
		argIdx++
	}
	if f.UnreadOnly {
		query += " AND NOT is_read"
	}

	query += " ORDER BY triggered_at DESC, id DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan alerts: %w", err)
	}
	return alerts, nil
}

// MarkRead flags an alert as read.
func (s *AlertStore) MarkRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark alert %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAll removes every alert and returns the deleted rows.
func (s *AlertStore) DeleteAll(ctx context.Context) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `DELETE FROM alerts RETURNING `+alertSelectCols)
	if err != nil {
		return nil, fmt.Errorf("postgres: delete all alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan deleted alerts: %w", err)
	}
	return alerts, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
