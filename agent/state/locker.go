package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSessionBusy = errors.New("session is busy")

// Locker serializes turns that touch the same session key.
// The returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex. Waiters on a key are served strictly
// in arrival order.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	held    bool
	waiters []chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{}
		l.slots[key] = slot
	}
	if !slot.held {
		slot.held = true
		l.mu.Unlock()
		return l.releaser(key, slot), nil
	}
	ready := make(chan struct{})
	slot.waiters = append(slot.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.releaser(key, slot), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-ready:
		// Handed over while giving up: pass it to the next waiter.
		l.handOff(key, slot)
	default:
		for i, w := range slot.waiters {
			if w == ready {
				slot.waiters = append(slot.waiters[:i], slot.waiters[i+1:]...)
				break
			}
		}
	}
	l.mu.Unlock()
	return nil, fmt.Errorf("%w: %s: %v", ErrSessionBusy, key, ctx.Err())
}

// Waiting reports how many turns are queued behind the holder of key.
func (l *LocalLocker) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.slots[key]; ok {
		return len(slot.waiters)
	}
	return 0
}

func (l *LocalLocker) releaser(key string, slot *lockSlot) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.handOff(key, slot)
		})
	}
}

// handOff passes the lock to the oldest waiter. Callers hold l.mu.
func (l *LocalLocker) handOff(key string, slot *lockSlot) {
	if len(slot.waiters) > 0 {
		next := slot.waiters[0]
		slot.waiters = slot.waiters[1:]
		close(next)
		return
	}
	slot.held = false
	delete(l.slots, key)
}

type RedisLockerConfig struct {
	Addr          string        `split_words:"true"`
	Password      string        `split_words:"true"`
	DB            int           `envconfig:"DB" default:"0"`
	KeyPrefix     string        `split_words:"true" default:"grace:lock:"`
	TTL           time.Duration `envconfig:"TTL" default:"30s"`
	Wait          time.Duration `split_words:"true" default:"10s"`
	RetryInterval time.Duration `split_words:"true" default:"50ms"`
}

func (c RedisLockerConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RedisLocker holds the session lock in Redis so several replicas can share sessions.
// Waiters poll SETNX every RetryInterval, so arrival order across replicas is not
// guaranteed: a later message may win the race. A waiter gives up with ErrSessionBusy
// after Wait, which bounds how long an out-of-order turn can be delayed.
type RedisLocker struct {
	client        redis.UniversalClient
	keyPrefix     string
	ttl           time.Duration
	wait          time.Duration
	retryInterval time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	l := &RedisLocker{
		client:        client,
		keyPrefix:     cfg.KeyPrefix,
		ttl:           cfg.TTL,
		wait:          cfg.Wait,
		retryInterval: cfg.RetryInterval,
	}
	if l.keyPrefix == "" {
		l.keyPrefix = "grace:lock:"
	}
	if l.ttl <= 0 {
		l.ttl = 30 * time.Second
	}
	if l.wait <= 0 {
		l.wait = 10 * time.Second
	}
	if l.retryInterval <= 0 {
		l.retryInterval = 50 * time.Millisecond
	}
	return l
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := l.keyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, lockKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: acquire lock: %v", ErrStoreUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrSessionBusy, key)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err()
		})
	}, nil
}
