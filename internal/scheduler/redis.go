package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis schedules deadlines in a sorted set scored by fire time, so they
// survive process restarts. A single poller pops due members and dispatches
// them; ZPOPMIN removes atomically, so each firing is single-shot even when
// Cancel or a re-registration races the poll.
type Redis struct {
	client       *redis.Client
	handler      Handler
	logger       *slog.Logger
	pollInterval time.Duration
}

const deadlineKey = "deadlines"

func NewRedis(client *redis.Client, handler Handler, logger *slog.Logger) *Redis {
	return &Redis{
		client:       client,
		handler:      handler,
		logger:       logger,
		pollInterval: time.Second,
	}
}

func (r *Redis) Schedule(ctx context.Context, name string, at time.Time) error {
	// ZADD on an existing member updates its score, which is exactly the
	// replace-on-reregister contract.
	return r.client.ZAdd(ctx, deadlineKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: name,
	}).Err()
}

func (r *Redis) ScheduleIn(ctx context.Context, name string, delay time.Duration) error {
	return r.Schedule(ctx, name, time.Now().Add(delay))
}

func (r *Redis) Cancel(ctx context.Context, name string) error {
	return r.client.ZRem(ctx, deadlineKey, name).Err()
}

// Run polls for due deadlines until the context ends. Deadlines in this
// system are minutes to days out, so one-second polling granularity is
// plenty.
func (r *Redis) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.dispatchDue(ctx)
		}
	}
}

// dispatchDue pops deadlines one at a time. Popping carries the score out
// with the member, so a deadline re-registered for a later time between poll
// rounds is detected and put back instead of fired early.
func (r *Redis) dispatchDue(ctx context.Context) {
	now := time.Now().UnixMilli()
	for {
		popped, err := r.client.ZPopMin(ctx, deadlineKey, 1).Result()
		if err != nil {
			r.logger.Error("deadline poll failed", "error", err)
			return
		}
		if len(popped) == 0 {
			return
		}
		entry := popped[0]
		if int64(entry.Score) > now {
			// Not due yet; restore it and stop, the set is score-ordered.
			if err := r.client.ZAdd(ctx, deadlineKey, entry).Err(); err != nil {
				r.logger.Error("deadline restore failed", "member", entry.Member, "error", err)
			}
			return
		}
		name, ok := entry.Member.(string)
		if !ok {
			r.logger.Warn("dropping deadline with non-string member")
			continue
		}
		kind, tokenID, err := ParseName(name)
		if err != nil {
			r.logger.Warn("dropping deadline with malformed name", "name", name, "error", err)
			continue
		}
		markFired(kind)
		r.handler(ctx, kind, tokenID)
	}
}
