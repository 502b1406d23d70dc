package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves one delayed id to the ready list only if this caller
// removed it from the delayed set, so concurrent promoters never duplicate.
var promoteScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisBroker keeps every queue as a handful of Redis keys:
//
//	<prefix>:<queue>:ready      LIST  ids, pushed left and reserved right (FIFO)
//	<prefix>:<queue>:active:<i> LIST  ids being handled by instance i
//	<prefix>:<queue>:instances  SET   instances that have an active list
//	<prefix>:<queue>:delayed    ZSET  ids scored by run-at unix millis
//	<prefix>:<queue>:completed  LIST  newest first, trimmed to retention
//	<prefix>:<queue>:failed     LIST  newest first, trimmed to retention
//	<prefix>:<queue>:job:<id>   STRING JSON record
//
// Every process keeps its own active list, so Recover on one replica never
// steals jobs another replica is still running. The instance name must be
// stable across restarts for Recover to find what a crash left behind.
type RedisBroker struct {
	client    redis.UniversalClient
	keyPrefix string
	instance  string
}

// RedisBrokerOption configures RedisBroker.
type RedisBrokerOption func(*RedisBroker)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisBrokerOption {
	return func(r *RedisBroker) {
		r.keyPrefix = prefix
	}
}

// WithInstance names this process's active lists. Defaults to the hostname.
func WithInstance(name string) RedisBrokerOption {
	return func(r *RedisBroker) {
		if name != "" {
			r.instance = name
		}
	}
}

func NewRedisBroker(client redis.UniversalClient, opts ...RedisBrokerOption) *RedisBroker {
	rb := &RedisBroker{
		client:    client,
		keyPrefix: "marketpull:queue",
		instance:  "default",
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		rb.instance = host
	}
	for _, opt := range opts {
		opt(rb)
	}
	return rb
}

func (r *RedisBroker) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisBroker) Add(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.jobKey(msg.Queue, msg.ID), data, 0)
	if msg.State == StateDelayed {
		pipe.ZAdd(ctx, r.key(msg.Queue, "delayed"), redis.Z{
			Score:  float64(msg.RunAt.UnixMilli()),
			Member: msg.ID,
		})
	} else {
		pipe.LPush(ctx, r.key(msg.Queue, "ready"), msg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}
	return nil
}

func (r *RedisBroker) Reserve(ctx context.Context, queue string, timeout time.Duration) (*Message, error) {
	id, err := r.client.BLMove(ctx, r.key(queue, "ready"), r.activeKey(queue), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("blmove: %w", err)
	}

	msg, err := r.Get(ctx, queue, id)
	if errors.Is(err, ErrJobNotFound) {
		// Record expired while the id sat in the list; drop the orphan.
		r.client.LRem(ctx, r.activeKey(queue), 1, id)
		return nil, nil
	}
	return msg, err
}

func (r *RedisBroker) Update(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.client.Set(ctx, r.jobKey(msg.Queue, msg.ID), data, redis.KeepTTL).Err()
}

func (r *RedisBroker) Retry(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.activeKey(msg.Queue), 1, msg.ID)
	pipe.Set(ctx, r.jobKey(msg.Queue, msg.ID), data, 0)
	pipe.ZAdd(ctx, r.key(msg.Queue, "delayed"), redis.Z{
		Score:  float64(msg.RunAt.UnixMilli()),
		Member: msg.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule retry %s: %w", msg.ID, err)
	}
	return nil
}

func (r *RedisBroker) Finish(ctx context.Context, msg *Message, retention int, ttl time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	history := r.key(msg.Queue, string(msg.State))
	pipe := r.client.TxPipeline()
	pipe.LRem(ctx, r.activeKey(msg.Queue), 1, msg.ID)
	pipe.LPush(ctx, history, msg.ID)
	pipe.LTrim(ctx, history, 0, int64(retention-1))
	pipe.Set(ctx, r.jobKey(msg.Queue, msg.ID), data, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish %s: %w", msg.ID, err)
	}
	return nil
}

func (r *RedisBroker) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.key(queue, "delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: 500,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("fetch delayed: %w", err)
	}

	moved := 0
	keys := []string{r.key(queue, "delayed"), r.key(queue, "ready")}
	for _, id := range ids {
		n, err := promoteScript.Run(ctx, r.client, keys, id).Int()
		if err != nil {
			return moved, fmt.Errorf("promote %s: %w", id, err)
		}
		moved += n
	}
	return moved, nil
}

// Recover requeues what this instance left active and registers its active
// list for Status. Other instances' lists are left alone.
func (r *RedisBroker) Recover(ctx context.Context, queue string) (int, error) {
	if err := r.client.SAdd(ctx, r.key(queue, "instances"), r.instance).Err(); err != nil {
		return 0, fmt.Errorf("register instance: %w", err)
	}
	moved := 0
	for {
		_, err := r.client.LMove(ctx, r.activeKey(queue), r.key(queue, "ready"), "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover active: %w", err)
		}
		moved++
	}
}

func (r *RedisBroker) Get(ctx context.Context, queue, id string) (*Message, error) {
	data, err := r.client.Get(ctx, r.jobKey(queue, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message %s: %w", id, err)
	}
	return &msg, nil
}

func (r *RedisBroker) Status(ctx context.Context, queue string, limit int) (*Status, error) {
	if limit <= 0 {
		limit = 20
	}
	last := int64(limit - 1)

	instances, err := r.client.SMembers(ctx, r.key(queue, "instances")).Result()
	if err != nil {
		return nil, fmt.Errorf("queue instances: %w", err)
	}

	pipe := r.client.Pipeline()
	waiting := pipe.LLen(ctx, r.key(queue, "ready"))
	delayed := pipe.ZCard(ctx, r.key(queue, "delayed"))
	active := make([]*redis.StringSliceCmd, len(instances))
	for i, inst := range instances {
		active[i] = pipe.LRange(ctx, r.key(queue, "active:"+inst), 0, last)
	}
	pending := pipe.LRange(ctx, r.key(queue, "ready"), -int64(limit), -1)
	completed := pipe.LRange(ctx, r.key(queue, "completed"), 0, last)
	failed := pipe.LRange(ctx, r.key(queue, "failed"), 0, last)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("queue status: %w", err)
	}

	st := &Status{
		Queue:   queue,
		Waiting: waiting.Val(),
		Delayed: delayed.Val(),
	}

	var activeIDs []string
	for _, cmd := range active {
		activeIDs = append(activeIDs, cmd.Val()...)
	}
	if st.Active, err = r.records(ctx, queue, activeIDs); err != nil {
		return nil, err
	}
	// ready is consumed from the right, so reverse to show the next job first
	pendingIDs := pending.Val()
	for i, j := 0, len(pendingIDs)-1; i < j; i, j = i+1, j-1 {
		pendingIDs[i], pendingIDs[j] = pendingIDs[j], pendingIDs[i]
	}
	if st.Pending, err = r.records(ctx, queue, pendingIDs); err != nil {
		return nil, err
	}
	if st.Completed, err = r.records(ctx, queue, completed.Val()); err != nil {
		return nil, err
	}
	if st.Failed, err = r.records(ctx, queue, failed.Val()); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *RedisBroker) records(ctx context.Context, queue string, ids []string) ([]Message, error) {
	out := make([]Message, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.jobKey(queue, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget records: %w", err)
	}

	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *RedisBroker) key(queue, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", r.keyPrefix, queue, suffix)
}

func (r *RedisBroker) activeKey(queue string) string {
	return r.key(queue, "active:"+r.instance)
}

func (r *RedisBroker) jobKey(queue, id string) string {
	return fmt.Sprintf("%s:%s:job:%s", r.keyPrefix, queue, id)
}
