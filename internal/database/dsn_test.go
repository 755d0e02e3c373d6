package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "agenda",
		Password: "secret",
		Name:     "agenda",
		Host:     "db.internal",
		Port:     5433,
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "sslmode=disable")
}

func TestBuildPostgresDSNRequiresUser(t *testing.T) {
	_, err := buildPostgresDSN(Config{Name: "agenda"})
	require.Error(t, err)
}

func TestBuildPostgresDSNPrefersExplicitDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://u:p@h/db"})
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@h/db", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "agenda",
		Password: "secret",
		Name:     "agenda",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "agenda:secret@tcp(127.0.0.1:3306)/agenda")
	require.Contains(t, dsn, "parseTime=True")
}

func TestBuildMySQLDSNRequiresName(t *testing.T) {
	_, err := buildMySQLDSN(Config{User: "agenda"})
	require.Error(t, err)
}
