package branchcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusStreamMaxLen = 2000

// RedisStatusSink publishes coordinator lifecycle events to a capped Redis
// stream per book, grounded on the teacher's TaskRunner.emitStatus: an
// XAdd with an approximate MaxLen trim, nothing reading the stream back
// into coordination decisions (SPEC_FULL.md §2.3).
type RedisStatusSink struct {
	client *redis.Client
}

func NewRedisStatusSink(client *redis.Client) *RedisStatusSink {
	return &RedisStatusSink{client: client}
}

func (s *RedisStatusSink) Emit(ctx context.Context, bookID, key, event string) {
	if s.client == nil {
		return
	}
	_ = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "branchcache:status:" + bookID,
		MaxLen: statusStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"book_id": bookID,
			"key":     key,
			"event":   event,
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
