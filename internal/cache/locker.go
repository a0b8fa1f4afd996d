package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides TTL-bounded single-flight locks. The TTL is a crash
// recovery bound: a holder that dies stops blocking new attempts once it
// elapses. It is not a fencing token; the execution ledger is the durable
// line of defense behind it.
type Locker interface {
	// Acquire returns true and a release func when the lock was taken,
	// false when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error)
}

const lockKeyPrefix = "concierge:lock:"

// ExecutionLockKey canonicalizes a (conversation, tool, args) tuple into a
// stable lock key. args must already be canonical JSON so that key order
// does not produce distinct locks.
func ExecutionLockKey(conversationID, tool string, canonicalArgs []byte) string {
	sum := sha256.Sum256(canonicalArgs)
	return fmt.Sprintf("%s:%s:%s", conversationID, tool, hex.EncodeToString(sum[:16]))
}

// releaseScript deletes the lock only when the caller still owns it, so
// a holder that outlived its TTL cannot delete a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. Each acquisition stores
// a random ownership token and release is a compare-and-delete.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	full := lockKeyPrefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err()
	}
	return true, release, nil
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
// It mirrors RedisLocker's ownership semantics: release is a no-op once
// the lock changed hands.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
}

type memoryLock struct {
	token  string
	expiry time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if held, ok := l.locks[key]; ok && l.now().Before(held.expiry) {
		return false, nil, nil
	}
	token := uuid.NewString()
	l.locks[key] = memoryLock{token: token, expiry: l.now().Add(ttl)}
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.token == token {
			delete(l.locks, key)
		}
	}
	return true, release, nil
}
