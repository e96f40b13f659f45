package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_ConcurrentCounts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Launched(ctx)
			m.Terminated(ctx)
		}()
	}
	wg.Wait()
	m.Launched(ctx)

	c, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(51), c.Launched)
	assert.Equal(t, int64(50), c.Terminated)
	assert.Equal(t, int64(1), c.Active())
}

func TestNopLedger(t *testing.T) {
	var l Ledger = Nop{}
	l.Launched(context.Background())
	c, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, c.Launched)
}

func TestRedisLedger_CountsAndSnapshot(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	defer rdb.Close()
	l := NewRedis(rdb)

	empty, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{}, empty)

	ctx, cancel := context.WithCancel(context.Background())
	l.Launched(ctx)
	l.Launched(ctx)
	cancel()
	// cancelled request contexts still count
	l.Terminated(ctx)

	c, err := l.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Launched)
	assert.Equal(t, int64(1), c.Terminated)

	got, err := mrs.Get("pdfrender:ledger:launched")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
}

func TestRedisLedger_SnapshotRejectsGarbage(t *testing.T) {
	mrs, err := miniredis.Run()
	require.NoError(t, err)
	defer mrs.Close()
	require.NoError(t, mrs.Set("pdfrender:ledger:launched", "many"))

	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	defer rdb.Close()

	_, err = NewRedis(rdb).Snapshot(context.Background())
	assert.Error(t, err)
}

func TestRedisLedger_UnavailableDoesNotPanic(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	l := NewRedis(rdb)

	l.Launched(context.Background())
	l.Terminated(context.Background())
	_, err := l.Snapshot(context.Background())
	assert.Error(t, err)
}
