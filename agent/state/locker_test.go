package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "t1:c1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Acquire(ctx, "t1:c1")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must wait for release")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed")
	}
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := locker.Acquire(ctx, "t1:a")
	require.NoError(t, err)
	b, err := locker.Acquire(ctx, "t1:b")
	require.NoError(t, err)
	a()
	b()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.slots)
}

func TestLocalLockerContextCancel(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	assert.True(t, errors.Is(err, ErrSessionBusy))
}

func TestLocalLockerServesWaitersInArrivalOrder(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	ctx := context.Background()
	const key = "t1:c1"

	release, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			done, err := locker.Acquire(ctx, key)
			if err != nil {
				t.Errorf("Acquire(%d) error = %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			done()
		}(i)
		require.Eventually(t, func() bool { return locker.Waiting(key) == i }, time.Second, time.Millisecond)
	}

	release()
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
	assert.Zero(t, locker.Waiting(key))
}

func TestLocalLockerCancelledWaiterKeepsQueue(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	const key = "t1:c1"

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	gaveUp := make(chan error, 1)
	go func() {
		_, err := locker.Acquire(ctx, key)
		gaveUp <- err
	}()
	require.Eventually(t, func() bool { return locker.Waiting(key) == 1 }, time.Second, time.Millisecond)

	acquired := make(chan struct{})
	go func() {
		done, err := locker.Acquire(context.Background(), key)
		if err == nil {
			close(acquired)
			done()
		}
	}()
	require.Eventually(t, func() bool { return locker.Waiting(key) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-gaveUp, ErrSessionBusy))
	assert.Equal(t, 1, locker.Waiting(key))

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("remaining waiter never acquired")
	}
}

func TestLocalLockerNoLostUpdate(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker()
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, SessionKey("t1", "c1"))
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			s, err := LoadOrNew(ctx, store, "t1", "c1", 50, time.Now())
			if err != nil {
				t.Errorf("LoadOrNew() error = %v", err)
				return
			}
			s.AppendMessage(Message{Role: RoleCustomer, Text: "hi", At: time.Now()})
			if err := store.Save(ctx, s); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := store.Load(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Len(t, s.Window, 20)
	assert.Equal(t, int64(20), s.Version)
}

func newMiniredisLocker(t *testing.T, cfg RedisLockerConfig) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, cfg), mr
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	t.Parallel()

	locker, mr := newMiniredisLocker(t, RedisLockerConfig{TTL: 5 * time.Second})

	release, err := locker.Acquire(context.Background(), "t1:c1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("grace:lock:t1:c1"))

	release()
	assert.False(t, mr.Exists("grace:lock:t1:c1"))
}

func TestRedisLockerBusy(t *testing.T) {
	t.Parallel()

	locker, _ := newMiniredisLocker(t, RedisLockerConfig{
		Wait:          60 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})

	release, err := locker.Acquire(context.Background(), "t1:c1")
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), "t1:c1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionBusy))
}

func TestRedisLockerWaiterAcquiresWithinWait(t *testing.T) {
	t.Parallel()

	locker, _ := newMiniredisLocker(t, RedisLockerConfig{
		Wait:          time.Second,
		RetryInterval: 5 * time.Millisecond,
	})

	release, err := locker.Acquire(context.Background(), "t1:c1")
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		done, err := locker.Acquire(context.Background(), "t1:c1")
		if err == nil {
			done()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not acquire after release")
	}
}

func TestRedisLockerReleaseKeepsForeignLock(t *testing.T) {
	t.Parallel()

	locker, mr := newMiniredisLocker(t, RedisLockerConfig{})

	release, err := locker.Acquire(context.Background(), "t1:c1")
	require.NoError(t, err)

	require.NoError(t, mr.Set("grace:lock:t1:c1", "someone-else"))
	release()

	got, err := mr.Get("grace:lock:t1:c1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
