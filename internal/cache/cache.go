// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	// ActionQueueKey is the list the external historian drains.
	ActionQueueKey = "memora:game_actions"
	// BlockedSetKey holds the ids of currently blocked users.
	BlockedSetKey = "memora:blocked_users"
)

// Connect opens a Redis client and verifies it with a PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	log.Printf("Connected to Redis at %s (db %d).", addr, db)
	return rdb, nil
}

// GameActionRecord is one logged game action, in order within a game.
type GameActionRecord struct {
	GameID        uuid.UUID              `json:"gameId"`
	ActionIndex   int                    `json:"actionIndex"`
	ActorUserID   uuid.UUID              `json:"actorUserId"` // uuid.Nil for game events
	ActionType    string                 `json:"actionType"`
	ActionPayload map[string]interface{} `json:"actionPayload"`
	Timestamp     int64                  `json:"timestamp"` // unix millis
}

// ActionPublisher appends game actions to the historian queue.
type ActionPublisher struct {
	rdb *redis.Client
	key string
}

// NewActionPublisher returns a publisher writing to ActionQueueKey.
func NewActionPublisher(rdb *redis.Client) *ActionPublisher {
	return &ActionPublisher{rdb: rdb, key: ActionQueueKey}
}

// PublishGameAction pushes rec onto the queue.
func (p *ActionPublisher) PublishGameAction(ctx context.Context, rec GameActionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action %d: %w", rec.ActionIndex, err)
	}
	if err := p.rdb.RPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", p.key, err)
	}
	return nil
}

// BlockCache mirrors the set of blocked users for fast lookups.
type BlockCache struct {
	rdb *redis.Client
	key string
}

// NewBlockCache returns a cache backed by BlockedSetKey.
func NewBlockCache(rdb *redis.Client) *BlockCache {
	return &BlockCache{rdb: rdb, key: BlockedSetKey}
}

// Add marks userID as blocked.
func (c *BlockCache) Add(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.SAdd(ctx, c.key, userID.String()).Err()
}

// Remove clears userID from the blocked set.
func (c *BlockCache) Remove(ctx context.Context, userID uuid.UUID) error {
	return c.rdb.SRem(ctx, c.key, userID.String()).Err()
}

// Contains reports whether userID is in the blocked set.
func (c *BlockCache) Contains(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.key, userID.String()).Result()
	if err == redis.Nil {
		return false, nil
	}
	return ok, err
}
