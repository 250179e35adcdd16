package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySerializesSameKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, UserKey("u1"))
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, m.size())
}

func TestMemoryIndependentKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, err := m.Lock(ctx, UserKey("a"))
	require.NoError(t, err)
	defer a()

	b, err := m.Lock(ctx, UserKey("b"))
	require.NoError(t, err)
	b()
}

func TestMemoryHonoursContext(t *testing.T) {
	m := NewMemory()
	held, err := m.Lock(context.Background(), UserKey("u1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, UserKey("u1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held()
	held()
	assert.Equal(t, 0, m.size())
}
