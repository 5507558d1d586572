package jobqueue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quatton/mam/pkg/merr"
	"github.com/redis/go-redis/v9"
)

const pendingPage = 500

// touchScript refreshes entries that are still owned by ARGV[2]. XCLAIM with
// JUSTID resets the idle time without bumping the delivery counter; the
// XPENDING check keeps a slow heartbeat from stealing an entry back from a
// recoverer.
var touchScript = redis.NewScript(`
local n = 0
for i = 3, #ARGV do
  local p = redis.call('XPENDING', KEYS[1], ARGV[1], ARGV[i], ARGV[i], 1, ARGV[2])
  if #p > 0 then
    redis.call('XCLAIM', KEYS[1], ARGV[1], ARGV[2], 0, ARGV[i], 'JUSTID')
    n = n + 1
  end
end
return n
`)

// RedisConfig parameterises a RedisQueue. One client type serves the API,
// the workers and the tests; only these values differ.
type RedisConfig struct {
	Stream string
	// MaxLen trims the stream approximately on every append. Zero disables
	// trimming.
	MaxLen int64
}

// RedisQueue implements Queue on Redis Streams.
type RedisQueue struct {
	rc     redis.UniversalClient
	stream string
	dead   string
	maxLen int64
}

// NewRedisQueue returns a queue bound to cfg.Stream.
func NewRedisQueue(rc redis.UniversalClient, cfg RedisConfig) *RedisQueue {
	return &RedisQueue{
		rc:     rc,
		stream: cfg.Stream,
		dead:   DeadStream(cfg.Stream),
		maxLen: cfg.MaxLen,
	}
}

// Stream returns the stream name.
func (q *RedisQueue) Stream() string { return q.stream }

func (q *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	// MKSTREAM lets the group exist before the first job is appended.
	err := q.rc.XGroupCreateMkStream(ctx, q.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return merr.Queue("jobqueue.ensure_group", err)
	}
	return nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", merr.Queue("jobqueue.enqueue", err)
	}
	id, err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: q.maxLen > 0,
		ID:     "*",
		Values: job.Fields(),
	}).Result()
	if err != nil {
		return "", merr.Queue("jobqueue.enqueue", err)
	}
	return id, nil
}

func (q *RedisQueue) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if count <= 0 {
		count = 1
	}
	// go-redis treats Block 0 as "forever" and a negative value as no BLOCK.
	if block <= 0 {
		block = -1
	}
	streams, err := q.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, merr.Queue("jobqueue.read_group", ErrNoGroup)
		}
		return nil, merr.Queue("jobqueue.read_group", err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, toDelivery(m, 1))
		}
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, group string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := q.rc.XAck(ctx, q.stream, group, ids...).Result()
	if err != nil {
		return 0, merr.Queue("jobqueue.ack", err)
	}
	return n, nil
}

func (q *RedisQueue) Pending(ctx context.Context, group string, minIdle time.Duration) ([]PendingEntry, error) {
	var out []PendingEntry
	start := "-"
	for {
		page, err := q.rc.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.stream,
			Group:  group,
			Idle:   minIdle,
			Start:  start,
			End:    "+",
			Count:  pendingPage,
		}).Result()
		if err != nil {
			if strings.Contains(err.Error(), "NOGROUP") {
				return nil, merr.Queue("jobqueue.pending", ErrNoGroup)
			}
			return nil, merr.Queue("jobqueue.pending", err)
		}
		for _, p := range page {
			out = append(out, PendingEntry{
				EntryID:    p.ID,
				Consumer:   p.Consumer,
				Idle:       p.Idle,
				Deliveries: p.RetryCount,
			})
		}
		if len(page) < pendingPage {
			return out, nil
		}
		// Exclusive range start, Redis >= 6.2.
		start = "(" + page[len(page)-1].ID
	}
}

func (q *RedisQueue) Reclaim(ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string) ([]Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := q.rc.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, merr.Queue("jobqueue.reclaim", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	// XCLAIM does not report delivery counts; read them back from the PEL.
	counts := make(map[string]int64, len(msgs))
	pend, err := q.rc.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   q.stream,
		Group:    group,
		Start:    msgs[0].ID,
		End:      msgs[len(msgs)-1].ID,
		Count:    int64(len(ids)) * 2,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return nil, merr.Queue("jobqueue.reclaim", err)
	}
	for _, p := range pend {
		counts[p.ID] = p.RetryCount
	}

	out := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		n := counts[m.ID]
		if n == 0 {
			n = 1
		}
		out = append(out, toDelivery(m, n))
	}
	return out, nil
}

func (q *RedisQueue) Touch(ctx context.Context, group, consumer string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, group, consumer)
	for _, id := range ids {
		args = append(args, id)
	}
	n, err := touchScript.Run(ctx, q.rc, []string{q.stream}, args...).Int64()
	if err != nil {
		return 0, merr.Queue("jobqueue.touch", err)
	}
	return n, nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, dl DeadLetter) (string, error) {
	if dl.FailedAt.IsZero() {
		dl.FailedAt = time.Now()
	}
	id, err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dead,
		MaxLen: q.maxLen,
		Approx: q.maxLen > 0,
		ID:     "*",
		Values: dl.fields(),
	}).Result()
	if err != nil {
		return "", merr.Queue("jobqueue.dead_letter", err)
	}
	return id, nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, count int) ([]DeadLetter, error) {
	if count <= 0 {
		count = 50
	}
	msgs, err := q.rc.XRevRangeN(ctx, q.dead, "+", "-", int64(count)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, merr.Queue("jobqueue.dead_letters", err)
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeDeadLetter(m.ID, m.Values))
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.rc.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, merr.Queue("jobqueue.len", err)
	}
	return n, nil
}

func toDelivery(m redis.XMessage, deliveries int64) Delivery {
	job, err := DecodeJob(m.Values)
	if err != nil {
		err = merr.Fatal("jobqueue.decode", err)
	}
	return Delivery{EntryID: m.ID, Job: job, Deliveries: deliveries, Err: err}
}

var _ Queue = (*RedisQueue)(nil)
