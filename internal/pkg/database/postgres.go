package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
)

var _ storage.Store = (*Database)(nil)

type Database struct {
	pool        *pgxpool.Pool
	historySize int
}

func NewDatabase(pool *pgxpool.Pool, historySize int) *Database {
	if historySize <= 0 {
		historySize = storage.DefaultHistorySize
	}
	return &Database{
		pool:        pool,
		historySize: historySize,
	}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (db *Database) Close() error {
	if db.pool == nil {
		return nil
	}
	db.pool.Close()
	return nil
}

func (db *Database) RelayState(ctx context.Context, deviceID string) (string, error) {
	var state *string
	err := db.pool.QueryRow(ctx, `SELECT relay_states FROM device_state WHERE device_id = $1`, deviceID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && (state == nil || *state == "")) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return *state, nil
}

func (db *Database) SaveRelayState(ctx context.Context, deviceID, state string) error {
	_, err := db.pool.Exec(ctx, `
	INSERT INTO device_state (device_id, relay_states, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (device_id) DO UPDATE SET relay_states = EXCLUDED.relay_states, updated_at = now()
	`, deviceID, state)
	return err
}

func (db *Database) Rooms(ctx context.Context, deviceID string) (model.RoomList, error) {
	var rooms *string
	err := db.pool.QueryRow(ctx, `SELECT rooms FROM device_state WHERE device_id = $1`, deviceID).Scan(&rooms)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && rooms == nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.SplitRooms(*rooms), nil
}

func (db *Database) SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error {
	_, err := db.pool.Exec(ctx, `
	INSERT INTO device_state (device_id, rooms, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (device_id) DO UPDATE SET rooms = EXCLUDED.rooms, updated_at = now()
	`, deviceID, rooms.String())
	return err
}
