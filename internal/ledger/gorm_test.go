package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warranty-reminder/internal/database"
	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
	"warranty-reminder/internal/testutil"
)

func TestGormLedgerMarkSentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	l := NewGormLedger(db)

	first := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)

	sent, err := l.HasSent(ctx, "p-1", 30)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, l.MarkSent(ctx, "p-1", 30, first))
	require.NoError(t, l.MarkSent(ctx, "p-1", 30, first.Add(time.Hour)))

	sent, err = l.HasSent(ctx, "p-1", 30)
	require.NoError(t, err)
	assert.True(t, sent)

	var count int64
	require.NoError(t, db.Model(&models.DispatchRecord{}).Where("product_id = ?", "p-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	records, err := l.List(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, first.Equal(records[0].SentAt), "replay must not overwrite the original send time")
}

func TestGormLedgerKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewGormLedger(testutil.OpenTestDB(t))
	now := time.Now()

	require.NoError(t, l.MarkSent(ctx, "p-1", 30, now))
	require.NoError(t, l.MarkSent(ctx, "p-1", 7, now))
	require.NoError(t, l.MarkSent(ctx, "p-2", 30, now))

	tests := []struct {
		productID string
		threshold int
		expected  bool
	}{
		{"p-1", 30, true},
		{"p-1", 7, true},
		{"p-1", 1, false},
		{"p-2", 30, true},
		{"p-2", 7, false},
		{"p-3", 30, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.productID, tt.threshold), func(t *testing.T) {
			sent, err := l.HasSent(ctx, tt.productID, tt.threshold)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sent)
		})
	}

	records, err := l.List(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 30, records[0].ThresholdDay)
	assert.Equal(t, 7, records[1].ThresholdDay)
}

func TestGormLedgerConcurrentMarkSent(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	l := NewGormLedger(db)

	var wg sync.WaitGroup
	errCh := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- l.MarkSent(ctx, "p-1", 7, time.Now())
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&models.DispatchRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormLedgerStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	l := NewGormLedger(db)
	require.NoError(t, database.Close(db))

	_, err := l.HasSent(ctx, "p-1", 30)
	assert.True(t, errs.Is(err, errs.ErrStoreUnavailable))

	err = l.MarkSent(ctx, "p-1", 30, time.Now())
	assert.True(t, errs.Is(err, errs.ErrStoreUnavailable))
	assert.True(t, errs.IsRetryable(err))
}
