package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MirrorPrefix is the Redis key prefix for session hashes.
	MirrorPrefix = "session:"

	// MirrorTTL is the time-to-live for mirrored session keys. Live
	// connections refresh it through Touch; a crashed instance's entries
	// simply expire.
	MirrorTTL = 1 * time.Hour
)

// Mirror keeps a best-effort copy of live session state in Redis so that
// operators (and sibling instances) can see which server owns which
// connection. It is not the source of truth; the in-process Manager is.
type Mirror struct {
	rdb        *redis.Client
	serverName string
}

// NewMirror creates a Mirror writing under the given server instance name.
func NewMirror(rdb *redis.Client, serverName string) *Mirror {
	return &Mirror{rdb: rdb, serverName: serverName}
}

// Create stores a new session hash with a TTL.
func (m *Mirror) Create(ctx context.Context, sessionID, userID string) error {
	key := MirrorPrefix + sessionID
	now := time.Now().Unix()

	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          sessionID,
		"user_id":     userID,
		"server":      m.serverName,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, key, MirrorTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes the session's last-active timestamp and TTL.
func (m *Mirror) Touch(ctx context.Context, sessionID string) error {
	key := MirrorPrefix + sessionID
	pipe := m.rdb.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, MirrorTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the session hash.
func (m *Mirror) Delete(ctx context.Context, sessionID string) error {
	return m.rdb.Del(ctx, MirrorPrefix+sessionID).Err()
}
