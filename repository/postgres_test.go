package repository

import (
	"context"
	"os"
	"testing"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"kpc/database"
	"kpc/logger"
)

const testPGPort = 5439

func TestPostgresStore(t *testing.T) {
	if testing.Short() || os.Getenv("KPC_PG_TESTS") != "1" {
		t.Skip("set KPC_PG_TESTS=1 to run against embedded Postgres")
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Port(testPGPort).
		Username("kpc").
		Password("kpc").
		Database("kpc").
		RuntimePath(t.TempDir()))
	require.NoError(t, pg.Start())
	t.Cleanup(func() { _ = pg.Stop() })

	ctx := context.Background()
	db, err := sqlx.ConnectContext(ctx, "postgres", database.EmbeddedDSN(testPGPort))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.CreateTables(ctx, db))
	require.NoError(t, database.CreateTables(ctx, db), "schema creation is idempotent")

	exerciseStore(t, NewPostgresStore(db, logger.Nop()))
}
