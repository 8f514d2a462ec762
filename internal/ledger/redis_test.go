package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/testutil"
)

func TestRedisLedgerMarkSent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, cleanup := testutil.SetupRedisContainer(ctx, t)
	defer cleanup()

	l := NewRedisLedger(client)
	first := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)

	sent, err := l.HasSent(ctx, "p-1", 30)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, l.MarkSent(ctx, "p-1", 30, first))
	require.NoError(t, l.MarkSent(ctx, "p-1", 30, first.Add(time.Hour)))
	require.NoError(t, l.MarkSent(ctx, "p-1", 7, first.AddDate(0, 0, 23)))

	sent, err = l.HasSent(ctx, "p-1", 30)
	require.NoError(t, err)
	assert.True(t, sent)

	raw, err := client.Get(ctx, "warranty:dispatch:p-1:30").Result()
	require.NoError(t, err)
	assert.Equal(t, first.Format(time.RFC3339Nano), raw)

	ttl, err := client.TTL(ctx, "warranty:dispatch:p-1:30").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl, "dispatch keys must not expire")

	records, err := l.List(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 30, records[0].ThresholdDay)
	assert.Equal(t, 7, records[1].ThresholdDay)
	assert.True(t, first.Equal(records[0].SentAt))
}

func TestRedisLedgerConcurrentMarkSent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, cleanup := testutil.SetupRedisContainer(ctx, t)
	defer cleanup()

	l := NewRedisLedger(client)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.MarkSent(ctx, "p-2", 1, time.Now()))
		}()
	}
	wg.Wait()

	keys, err := client.Keys(ctx, "warranty:dispatch:p-2:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRedisLedgerListCorruptRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, cleanup := testutil.SetupRedisContainer(ctx, t)
	defer cleanup()

	l := NewRedisLedger(client)
	require.NoError(t, client.Set(ctx, "warranty:dispatch:p-3:30", "yesterday", 0).Err())

	records, err := l.List(ctx, "p-3")
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "warranty:dispatch:p-3:30")

	sent, err := l.HasSent(ctx, "p-3", 30)
	require.NoError(t, err)
	assert.True(t, sent, "a corrupt value still counts as dispatched")
}

func TestRedisLedgerStoreUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	client, cleanup := testutil.SetupRedisContainer(ctx, t)
	l := NewRedisLedger(client)
	cleanup()

	_, err := l.HasSent(ctx, "p-1", 30)
	assert.True(t, errs.Is(err, errs.ErrStoreUnavailable))
}
