// Package statecache keeps the last known relay state and rooms of each device
// in Redis in front of another store.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
)

const DefaultTTL = 24 * time.Hour

var _ storage.Store = (*Cache)(nil)

// Cache reads through to the wrapped store on a miss. Redis failures are
// logged and never fail a request that the wrapped store can serve.
type Cache struct {
	storage.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, inner storage.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{Store: inner, rdb: rdb, ttl: ttl, logger: zap.L()}
}

func stateKey(id string) string { return "device:relay_state:" + id }
func roomsKey(id string) string { return "device:rooms:" + id }

func (c *Cache) RelayState(ctx context.Context, deviceID string) (string, error) {
	state, err := c.rdb.Get(ctx, stateKey(deviceID)).Result()
	switch {
	case err == nil:
		return state, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("relay state cache read failed", zap.Error(err), zap.String("device_id", deviceID))
	}

	state, err = c.Store.RelayState(ctx, deviceID)
	if err != nil {
		return "", err
	}
	c.set(ctx, stateKey(deviceID), state)
	return state, nil
}

func (c *Cache) SaveRelayState(ctx context.Context, deviceID, state string) error {
	if err := c.Store.SaveRelayState(ctx, deviceID, state); err != nil {
		return err
	}
	c.set(ctx, stateKey(deviceID), state)
	return nil
}

func (c *Cache) Rooms(ctx context.Context, deviceID string) (model.RoomList, error) {
	b, err := c.rdb.Get(ctx, roomsKey(deviceID)).Bytes()
	if err == nil {
		var rooms []string
		if err := json.Unmarshal(b, &rooms); err == nil {
			return rooms, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("rooms cache read failed", zap.Error(err), zap.String("device_id", deviceID))
	}

	rooms, err := c.Store.Rooms(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.setRooms(ctx, deviceID, rooms)
	return rooms, nil
}

func (c *Cache) SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error {
	if err := c.Store.SaveRooms(ctx, deviceID, rooms); err != nil {
		return err
	}
	c.setRooms(ctx, deviceID, rooms)
	return nil
}

func (c *Cache) setRooms(ctx context.Context, deviceID string, rooms model.RoomList) {
	// stored as a plain list; RoomList marshals to the joined string
	b, err := json.Marshal([]string(rooms))
	if err != nil {
		return
	}
	c.set(ctx, roomsKey(deviceID), b)
}

func (c *Cache) set(ctx context.Context, key string, value any) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err), zap.String("key", key))
	}
}

// Invalidate drops the cached entries of a device.
func (c *Cache) Invalidate(ctx context.Context, deviceID string) error {
	return c.rdb.Del(ctx, stateKey(deviceID), roomsKey(deviceID)).Err()
}
