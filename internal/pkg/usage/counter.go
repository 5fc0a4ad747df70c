// Package usage counts inbound API calls per user in Redis and periodically
// folds them into the api_usage table.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
)

const keyPrefix = "usage:api_calls:"

func periodKey(period string) string {
	return keyPrefix + period
}

// Counter buffers per-user call counts in one Redis hash per month.
type Counter struct {
	rdb  *redis.Client
	repo repository.UsageRepository
	now  func() time.Time
}

func NewCounter(rdb *redis.Client, repo repository.UsageRepository) *Counter {
	return &Counter{rdb: rdb, repo: repo, now: time.Now}
}

// Record adds one call for userID to the current period.
func (c *Counter) Record(ctx context.Context, userID uint) error {
	field := strconv.FormatUint(uint64(userID), 10)
	return c.rdb.HIncrBy(ctx, periodKey(models.UsagePeriod(c.now())), field, 1).Err()
}

// Pending returns the not yet flushed count of userID for period.
func (c *Counter) Pending(ctx context.Context, userID uint, period string) (int64, error) {
	v, err := c.rdb.HGet(ctx, periodKey(period), strconv.FormatUint(uint64(userID), 10)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Flush drains the current and previous period so calls recorded right before
// a month boundary are not stranded.
func (c *Counter) Flush(ctx context.Context) error {
	now := c.now().UTC()
	periods := []string{
		models.UsagePeriod(now.AddDate(0, -1, 0)),
		models.UsagePeriod(now),
	}
	for _, period := range periods {
		if err := c.flushPeriod(ctx, period); err != nil {
			return fmt.Errorf("flush usage %s: %w", period, err)
		}
	}
	return nil
}

// flushPeriod renames the hash to a temporary key so increments arriving
// during the drain go into a fresh hash.
func (c *Counter) flushPeriod(ctx context.Context, period string) error {
	key := periodKey(period)
	tmpKey := fmt.Sprintf("%s:tmp:%d", key, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, key, tmpKey).Err(); err != nil {
		if err == redis.Nil || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	deltas := make(map[uint]int64, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		deltas[uint(id)] = inc
	}

	if len(deltas) > 0 {
		if err := c.repo.AddCalls(ctx, period, deltas); err != nil {
			// put the counts back so the next tick retries them
			c.restore(ctx, key, deltas)
			c.rdb.Del(ctx, tmpKey)
			return err
		}
		log.Debugf("[Usage] flushed %d users for %s", len(deltas), period)
	}
	return c.rdb.Del(ctx, tmpKey).Err()
}

func (c *Counter) restore(ctx context.Context, key string, deltas map[uint]int64) {
	pipe := c.rdb.TxPipeline()
	for id, inc := range deltas {
		pipe.HIncrBy(ctx, key, strconv.FormatUint(uint64(id), 10), inc)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Errorf("[Usage] failed to restore %d pending counters: %v", len(deltas), err)
	}
}

// Calls returns the flushed plus pending calls of userID in period.
func (c *Counter) Calls(ctx context.Context, userID uint, period string) (int64, error) {
	stored, err := c.repo.Get(ctx, userID, period)
	if err != nil {
		return 0, err
	}
	pending, err := c.Pending(ctx, userID, period)
	if err != nil {
		log.Warnf("[Usage] pending count for user %d unavailable: %v", userID, err)
		return stored, nil
	}
	return stored + pending, nil
}

// Reader reports the calls of a user in a period.
type Reader interface {
	Calls(ctx context.Context, userID uint, period string) (int64, error)
}

// StoredReader reads only flushed counts, for setups without Redis.
type StoredReader struct {
	Repo repository.UsageRepository
}

func (s StoredReader) Calls(ctx context.Context, userID uint, period string) (int64, error) {
	return s.Repo.Get(ctx, userID, period)
}
