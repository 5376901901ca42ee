package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerializesSameName(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := locker.Lock(ctx, "globalfs")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, u.Unlock())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Empty(t, locker.locks, "idle locks must be forgotten")
}

func TestLocalLockerIndependentNames(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	a, err := locker.Lock(ctx, "projectfs")
	require.NoError(t, err)
	b, err := locker.Lock(ctx, "globalfs")
	require.NoError(t, err)
	assert.NoError(t, a.Unlock())
	assert.NoError(t, b.Unlock())
}

func TestLocalLockerContextTimeout(t *testing.T) {
	locker := NewLocalLocker()
	held, err := locker.Lock(context.Background(), "projectfs")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "projectfs")
	assert.Equal(t, context.DeadlineExceeded, err)

	require.NoError(t, held.Unlock())
	// double unlock is harmless
	require.NoError(t, held.Unlock())

	again, err := locker.Lock(context.Background(), "projectfs")
	require.NoError(t, err)
	assert.NoError(t, again.Unlock())
}
