package ledger

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/models"
)

const dispatchKeyPrefix = "warranty:dispatch:"

// RedisLedger keeps one key per dispatched reminder. Keys never expire.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func dispatchKey(productID string, thresholdDay int) string {
	return dispatchKeyPrefix + productID + ":" + strconv.Itoa(thresholdDay)
}

func (l *RedisLedger) HasSent(ctx context.Context, productID string, thresholdDay int) (bool, error) {
	exists, err := l.client.Exists(ctx, dispatchKey(productID, thresholdDay)).Result()
	if err != nil {
		return false, errs.StoreUnavailable(err, "failed to read dispatch record")
	}
	return exists > 0, nil
}

// MarkSent uses SETNX so only the first writer creates the key; later
// writers see false and treat it as already recorded.
func (l *RedisLedger) MarkSent(ctx context.Context, productID string, thresholdDay int, sentAt time.Time) error {
	_, err := l.client.SetNX(ctx, dispatchKey(productID, thresholdDay), sentAt.UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return errs.StoreUnavailable(err, "failed to write dispatch record")
	}
	return nil
}

func (l *RedisLedger) List(ctx context.Context, productID string) ([]models.DispatchRecord, error) {
	prefix := dispatchKeyPrefix + productID + ":"

	var records []models.DispatchRecord
	iter := l.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		threshold, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			// product IDs containing ':' can match a longer prefix
			continue
		}

		raw, err := l.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, errs.StoreUnavailable(err, "failed to read dispatch record")
		}
		sentAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, errs.Wrapf(err, "corrupt dispatch record %s", key)
		}

		records = append(records, models.DispatchRecord{
			ProductID:    productID,
			ThresholdDay: threshold,
			SentAt:       sentAt,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, errs.StoreUnavailable(err, "failed to list dispatch records")
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ThresholdDay > records[j].ThresholdDay
	})
	return records, nil
}
