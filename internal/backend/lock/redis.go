// Package lock serializes backend writes per revision id (§5 Shared
// resources: "one in-flight write per revision id; different revisions
// proceed in parallel"), using a distributed lock so multiple pipeline
// processes agree even without sharing memory.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RevisionLock is a distributed, per-revision mutual-exclusion lock backed
// by Redis SET NX PX / a Lua-checked DEL, so a lock is only released by the
// holder that acquired it.
type RevisionLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRevisionLock connects to addr (e.g. "localhost:6379").
func NewRevisionLock(addr string, ttl time.Duration) *RevisionLock {
	return NewRevisionLockFromClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRevisionLockFromClient wraps an already-constructed client, so tests
// can point it at an in-memory miniredis server instead of a real one.
func NewRevisionLockFromClient(client *redis.Client, ttl time.Duration) *RevisionLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RevisionLock{client: client, ttl: ttl}
}

// Handle is a held lock; call Release when the critical section is done.
type Handle struct {
	key   string
	token string
	lock  *RevisionLock
}

func keyFor(revisionID int64) string {
	return fmt.Sprintf("revpipe:lock:revision:%d", revisionID)
}

// Acquire blocks (polling) until the per-revision lock is held or ctx is
// canceled -- a cancellation during a held lock's own critical section is
// safe because backend writes are idempotent (§5).
func (l *RevisionLock) Acquire(ctx context.Context, revisionID int64) (*Handle, error) {
	key := keyFor(revisionID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock for revision %d: %w", revisionID, err)
		}
		if ok {
			return &Handle{key: key, token: token, lock: l}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// releaseScript deletes the key only if it still holds our token, so a
// lock whose TTL has already expired and been reacquired by someone else
// is never deleted out from under them.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release drops the lock if this handle still owns it.
func (h *Handle) Release(ctx context.Context) error {
	_, err := h.lock.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (l *RevisionLock) Close() error {
	return l.client.Close()
}
