//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func TestGormStorePostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("wintrust"),
		tcpostgres.WithUsername("wintrust"),
		tcpostgres.WithPassword("wintrust"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		db, err := OpenPostgres(dsn)
		require.NoError(t, err)
		resetSchema(t, db)
		st, err := NewGormStore(db)
		require.NoError(t, err)
		return st
	}})
}

func resetSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Migrator().DropTable(&participationRecord{}, &raffleRecord{}))
}
