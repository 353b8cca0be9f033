// Package session keeps a Redis copy of the store state so a restarted
// server can pick up where it left off.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "plan-generator/internal/common/errors"
	"plan-generator/internal/common/logger"
	"plan-generator/internal/plan/store"
)

const (
	keyPrefix    = "plan:session:"
	writeTimeout = 2 * time.Second
)

// ErrSnapshotCorrupt marks a stored snapshot that is not valid JSON.
var ErrSnapshotCorrupt = errors.New("session snapshot is corrupt")

// Key returns the Redis key of a session.
func Key(sessionID string) string {
	return keyPrefix + sessionID
}

// RedisSnapshotter writes store snapshots under one session key.
type RedisSnapshotter struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	logger logger.Logger

	mu          sync.Mutex
	lastVersion uint64
}

func NewRedisSnapshotter(client redis.Cmdable, sessionID string, ttl time.Duration, log logger.Logger) *RedisSnapshotter {
	return &RedisSnapshotter{
		client: client,
		key:    Key(sessionID),
		ttl:    ttl,
		logger: log,
	}
}

// Save stores snap as JSON with the configured TTL.
func (s *RedisSnapshotter) Save(ctx context.Context, snap store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return apperrors.NewSnapshotWriteFailedError(err)
	}
	return nil
}

// Load reads the stored snapshot. found is false when the key is absent or
// expired.
func (s *RedisSnapshotter) Load(ctx context.Context) (snap store.Snapshot, found bool, err error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return store.Snapshot{}, false, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return snap, true, nil
}

// LoadOrDiscard is Load, except that a corrupt snapshot is deleted and
// reported as absent.
func (s *RedisSnapshotter) LoadOrDiscard(ctx context.Context) (store.Snapshot, bool, error) {
	snap, found, err := s.Load(ctx)
	if !errors.Is(err, ErrSnapshotCorrupt) {
		return snap, found, err
	}

	s.logger.Warn("discarding unreadable session snapshot", map[string]interface{}{
		"key":   s.key,
		"error": err,
	})
	if err := s.Clear(ctx); err != nil {
		return store.Snapshot{}, false, fmt.Errorf("discard snapshot: %w", err)
	}
	return store.Snapshot{}, false, nil
}

// Clear deletes the session key.
func (s *RedisSnapshotter) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Attach saves every store change. Snapshots older than the last one written
// are skipped. The returned func detaches.
func (s *RedisSnapshotter) Attach(st *store.Store) func() {
	return st.Subscribe(s.handle)
}

func (s *RedisSnapshotter) handle(snap store.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version != 0 && snap.Version <= s.lastVersion {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.Save(ctx, snap); err != nil {
		s.logger.Warn("failed to write session snapshot", map[string]interface{}{
			"key":     s.key,
			"version": snap.Version,
			"error":   err,
		})
		return
	}
	s.lastVersion = snap.Version
}
