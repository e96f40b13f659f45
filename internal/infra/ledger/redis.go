package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfrender/internal/infra/logging"
)

const (
	defaultKeyPrefix = "pdfrender:ledger:"
	opTimeout        = time.Second
)

// Redis aggregates counters across prefork children and replicas.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis uses rdb with the default key prefix.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: defaultKeyPrefix}
}

func (r *Redis) launchedKey() string { return r.prefix + "launched" }
func (r *Redis) terminatedKey() string { return r.prefix + "terminated" }

func (r *Redis) Launched(ctx context.Context) { r.incr(ctx, r.launchedKey()) }
func (r *Redis) Terminated(ctx context.Context) { r.incr(ctx, r.terminatedKey()) }

func (r *Redis) incr(ctx context.Context, key string) {
	// Counting must survive a cancelled request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opTimeout)
	defer cancel()
	if err := r.rdb.Incr(ctx, key).Err(); err != nil {
		logging.Warn("Ledger update failed", "key", key, "error", err)
	}
}

func (r *Redis) Snapshot(ctx context.Context) (Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	vals, err := r.rdb.MGet(ctx, r.launchedKey(), r.terminatedKey()).Result()
	if err != nil {
		return Counts{}, err
	}
	launched, err := toInt(vals[0])
	if err != nil {
		return Counts{}, err
	}
	terminated, err := toInt(vals[1])
	if err != nil {
		return Counts{}, err
	}
	return Counts{Launched: launched, Terminated: terminated}, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ledger: non-numeric counter %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("ledger: unexpected counter type %T", v)
	}
}
