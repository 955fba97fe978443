package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: " postgres://x@y/z ", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "coinsignal", User: "app", Password: "p@ss"},
			want: "postgres://app:p%40ss@db:5432/coinsignal?sslmode=disable",
		},
		{
			name: "custom port",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrations_DeclareThresholdDedupIndex(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	sql, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	body := string(sql)

	assert.Contains(t, body, "CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_position_threshold")
	assert.True(t, strings.Contains(body, "WHERE alert_type IN ('PROFIT_TARGET', 'LOSS_LIMIT')"))
	assert.Contains(t, body, "version             BIGINT")
}
