// Package readstate manages per-(conversation, user) read watermarks and
// broadcasts advances to the conversation's room. A watermark stands in for
// "all messages up to this instant are read"; it is monotonic and never moves
// backwards.
package readstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ReadPrefix is the Redis key prefix for read watermark hashes. Each
// conversation owns one hash keyed by user ID, value is a millisecond
// timestamp.
const ReadPrefix = "read:"

// Store keeps read watermarks in Redis.
type Store struct {
	rdb           *redis.Client
	advanceScript *redis.Script
}

// NewStore creates a read watermark store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:           rdb,
		advanceScript: redis.NewScript(advanceLua),
	}
}

// Advance moves the user's watermark forward to ts (milliseconds). The Lua
// script refuses to move the watermark backwards, so out-of-order read
// intents collapse to last-write-wins on the highest value. Returns whether
// the watermark actually advanced.
func (s *Store) Advance(ctx context.Context, conversationID, userID string, ts int64) (bool, error) {
	key := ReadPrefix + conversationID
	result, err := s.advanceScript.Run(ctx, s.rdb, []string{key}, userID, ts).Int()
	if err != nil {
		return false, fmt.Errorf("readstate: advance: %w", err)
	}
	return result == 1, nil
}

// Get returns the user's current watermark for the conversation, or 0 if no
// read intent was ever recorded.
func (s *Store) Get(ctx context.Context, conversationID, userID string) (int64, error) {
	key := ReadPrefix + conversationID
	val, err := s.rdb.HGet(ctx, key, userID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("readstate: get: %w", err)
	}
	return val, nil
}

// advanceLua sets the watermark only when the new value is strictly greater
// than the stored one, keeping the marker monotonic under concurrent updates.
const advanceLua = `
local key = KEYS[1]
local field = ARGV[1]
local ts = tonumber(ARGV[2])

local cur = redis.call('HGET', key, field)
if cur and tonumber(cur) >= ts then
    return 0
end

redis.call('HSET', key, field, ts)
return 1
`
