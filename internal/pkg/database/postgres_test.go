package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/anicoll/relay-bridge/internal/pkg/database/migration"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
)

func startPostgres(t *testing.T, historySize int) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("relay"),
		postgres.WithUsername("relay"),
		postgres.WithPassword("relay"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, migration.Migrate(dsn, ""))
	// a second run finds nothing to do
	require.NoError(t, migration.Migrate(dsn, ""))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	db := NewDatabase(pool, historySize)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDatabase_DeviceState(t *testing.T) {
	db := startPostgres(t, 0)
	ctx := context.Background()

	_, err := db.RelayState(ctx, "dev1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = db.Rooms(ctx, "dev1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, db.SaveRelayState(ctx, "dev1", "0101"))
	_, err = db.Rooms(ctx, "dev1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "saving relay state must not invent rooms")

	require.NoError(t, db.SaveRooms(ctx, "dev1", model.RoomList{"Kitchen", "Garage"}))
	require.NoError(t, db.SaveRelayState(ctx, "dev1", "1101"))

	state, err := db.RelayState(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, "1101", state)
	rooms, err := db.Rooms(ctx, "dev1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomList{"Kitchen", "Garage"}, rooms)
}

func TestDatabase_TelemetryHistory(t *testing.T) {
	db := startPostgres(t, 3)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendTelemetry(ctx, model.TelemetrySample{
			DeviceID:     "dev1",
			Measurements: model.Measurements{Voltage: float64(220 + i), Status: "Good"},
			RelayStates:  "01",
			ReceivedAt:   start.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := db.TelemetryHistory(ctx, "dev1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 222.0, got[0].Measurements.Voltage)
	assert.Equal(t, 224.0, got[2].Measurements.Voltage)
	assert.Equal(t, "01", got[2].RelayStates)
	assert.True(t, start.Add(4*time.Minute).Equal(got[2].ReceivedAt))

	empty, err := db.TelemetryHistory(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDatabase_Cleanup(t *testing.T) {
	db := startPostgres(t, 10)
	ctx := context.Background()

	require.NoError(t, db.AppendTelemetry(ctx, model.TelemetrySample{DeviceID: "dev1", ReceivedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, db.AppendTelemetry(ctx, model.TelemetrySample{DeviceID: "dev1", ReceivedAt: time.Now()}))

	n, err := db.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.TelemetryHistory(ctx, "dev1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
