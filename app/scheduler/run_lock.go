package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/amirphl/creator-console/utils"
)

// ErrLockBusy is returned when another run already holds the key
var ErrLockBusy = errors.New("run lock is held by another run")

// RunLock serialises runs that share an upstream account.
// Acquire returns a release function; calling it more than once is harmless.
type RunLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// only delete the key if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend the TTL only while the key still carries our token
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisRunLock is a RunLock shared by every instance pointing at the same redis.
// The TTL bounds how long a crashed instance can keep an account locked; a live
// holder renews it every third of the TTL until it releases.
type RedisRunLock struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisRunLock(rc *redis.Client, prefix string, ttl time.Duration) *RedisRunLock {
	if prefix == "" {
		prefix = utils.AccountLockPrefix
	}
	if ttl <= 0 {
		ttl = utils.AccountLockTTL
	}
	return &RedisRunLock{rc: rc, prefix: prefix, ttl: ttl}
}

func (l *RedisRunLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	// Acquire distributed lock (SETNX with TTL)
	ok, err := l.rc.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		keepAlive(stop, l.ttl/3, func() (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n, err := refreshScript.Run(ctx, l.rc, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			return n == 1, err
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rc, []string{redisKey}, token).Err()
		})
	}, nil
}

// keepAlive calls refresh every interval until stop is closed or refresh
// reports the key no longer carries our token. Errors are retried on the next
// tick; the TTL still bounds a holder that cannot reach redis.
func keepAlive(stop <-chan struct{}, interval time.Duration, refresh func() (held bool, err error)) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := refresh()
			if err == nil && !held {
				return
			}
		}
	}
}

// LocalRunLock is an in-process RunLock used when redis is disabled
type LocalRunLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{held: make(map[string]struct{})}
}

func (l *LocalRunLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrLockBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// AcquisitionKey is the lock key for acquisition and audience removal on an account
func AcquisitionKey(accountID string) string {
	return "acquisition:" + accountID
}

// DispatchKey is the lock key for sending on an account
func DispatchKey(accountID string) string {
	return "dispatch:" + accountID
}
