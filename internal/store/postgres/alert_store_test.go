package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinsignal/internal/domain"
)

type stubExecer struct {
	tag  pgconn.CommandTag
	err  error
	sql  string
	args []any
}

func (s *stubExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	return s.tag, s.err
}

func TestInsertAlert(t *testing.T) {
	pid := "p1"
	alert := domain.Alert{ID: "a1", PositionID: &pid, Type: domain.AlertTypeProfitTarget, Message: "hit"}

	t.Run("row written", func(t *testing.T) {
		db := &stubExecer{tag: pgconn.NewCommandTag("INSERT 0 1")}
		created, err := insertAlert(context.Background(), db, alert)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Nil(t, db.args[4], "zero time defers to NOW()")
	})

	t.Run("threshold duplicate skipped", func(t *testing.T) {
		db := &stubExecer{tag: pgconn.NewCommandTag("INSERT 0 0")}
		created, err := insertAlert(context.Background(), db, alert)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("reused id is ErrAlreadyExists", func(t *testing.T) {
		db := &stubExecer{err: &pgconn.PgError{Code: "23505", ConstraintName: "alerts_pkey"}}
		_, err := insertAlert(context.Background(), db, alert)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})
}

func TestInsertAlertSQL_TargetsThresholdIndexOnly(t *testing.T) {
	assert.Contains(t, insertAlertSQL, "ON CONFLICT (position_id, alert_type)")
	assert.Contains(t, insertAlertSQL, "WHERE alert_type IN ('PROFIT_TARGET', 'LOSS_LIMIT')")
	assert.NotContains(t, insertAlertSQL, "ON CONFLICT DO NOTHING")
}
