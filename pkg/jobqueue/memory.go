package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quatton/mam/pkg/merr"
)

// MemoryQueue implements Queue in process with the same consumer-group
// semantics as Redis Streams. Idle times are measured with Clock so tests can
// advance time without sleeping.
type MemoryQueue struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries []memEntry
	groups  map[string]*memGroup
	dead    []DeadLetter
	lastMs  int64
	seq     int64
	wake    chan struct{}

	// FailEnqueue, when set, makes Enqueue fail with a QueueError.
	FailEnqueue error
}

type memEntry struct {
	id     string
	fields map[string]any
}

type memGroup struct {
	cursor  int // index of the next undelivered entry
	pending map[string]*memPending
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// NewMemoryQueue returns an empty queue using the wall clock.
func NewMemoryQueue() *MemoryQueue {
	return NewMemoryQueueWithClock(time.Now)
}

// NewMemoryQueueWithClock returns an empty queue that reads time from clock.
func NewMemoryQueueWithClock(clock func() time.Time) *MemoryQueue {
	return &MemoryQueue{
		clock:  clock,
		groups: make(map[string]*memGroup),
		wake:   make(chan struct{}),
	}
}

// Jobs returns every job appended so far, in log order.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.entries))
	for _, e := range q.entries {
		job, _ := DecodeJob(e.fields)
		out = append(out, job)
	}
	return out
}

// AppendRaw appends an entry with arbitrary fields, bypassing validation.
func (q *MemoryQueue) AppendRaw(fields map[string]any) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.appendLocked(fields)
}

func (q *MemoryQueue) appendLocked(fields map[string]any) string {
	ms := q.clock().UnixMilli()
	if ms <= q.lastMs {
		ms = q.lastMs
		q.seq++
	} else {
		q.seq = 0
	}
	q.lastMs = ms
	id := fmt.Sprintf("%d-%d", ms, q.seq)
	q.entries = append(q.entries, memEntry{id: id, fields: fields})

	close(q.wake)
	q.wake = make(chan struct{})
	return id
}

func (q *MemoryQueue) EnsureGroup(ctx context.Context, group string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.groups[group]; !ok {
		q.groups[group] = &memGroup{pending: make(map[string]*memPending)}
	}
	return nil
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", merr.Queue("jobqueue.enqueue", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailEnqueue != nil {
		return "", merr.Queue("jobqueue.enqueue", q.FailEnqueue)
	}
	return q.appendLocked(job.Fields()), nil
}

func (q *MemoryQueue) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Delivery, error) {
	if count <= 0 {
		count = 1
	}
	var timeout <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		timeout = t.C
	}

	for {
		q.mu.Lock()
		g, ok := q.groups[group]
		if !ok {
			q.mu.Unlock()
			return nil, merr.Queue("jobqueue.read_group", ErrNoGroup)
		}
		var out []Delivery
		now := q.clock()
		for g.cursor < len(q.entries) && len(out) < count {
			e := q.entries[g.cursor]
			g.cursor++
			g.pending[e.id] = &memPending{consumer: consumer, deliveredAt: now, deliveries: 1}
			out = append(out, memDelivery(e, 1))
		}
		wake := q.wake
		q.mu.Unlock()

		if len(out) > 0 || timeout == nil {
			return out, nil
		}
		select {
		case <-wake:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, merr.Queue("jobqueue.read_group", ctx.Err())
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, group string, ids ...string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[group]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range ids {
		if _, ok := g.pending[id]; ok {
			delete(g.pending, id)
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Pending(ctx context.Context, group string, minIdle time.Duration) ([]PendingEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[group]
	if !ok {
		return nil, merr.Queue("jobqueue.pending", ErrNoGroup)
	}
	now := q.clock()
	var out []PendingEntry
	for id, p := range g.pending {
		idle := now.Sub(p.deliveredAt)
		if idle < minIdle {
			continue
		}
		out = append(out, PendingEntry{EntryID: id, Consumer: p.consumer, Idle: idle, Deliveries: p.deliveries})
	}
	sort.Slice(out, func(i, j int) bool { return q.index(out[i].EntryID) < q.index(out[j].EntryID) })
	return out, nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string) ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[group]
	if !ok {
		return nil, merr.Queue("jobqueue.reclaim", ErrNoGroup)
	}
	now := q.clock()
	var out []Delivery
	for _, id := range ids {
		p, ok := g.pending[id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		i := q.index(id)
		if i < 0 {
			// Trimmed from the log; Redis drops such entries from the PEL.
			delete(g.pending, id)
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		out = append(out, memDelivery(q.entries[i], p.deliveries))
	}
	return out, nil
}

func (q *MemoryQueue) Touch(ctx context.Context, group, consumer string, ids ...string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[group]
	if !ok {
		return 0, merr.Queue("jobqueue.touch", ErrNoGroup)
	}
	now := q.clock()
	var n int64
	for _, id := range ids {
		if p, ok := g.pending[id]; ok && p.consumer == consumer {
			p.deliveredAt = now
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, dl DeadLetter) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dl.FailedAt.IsZero() {
		dl.FailedAt = q.clock()
	}
	dl.ID = fmt.Sprintf("%d-%d", dl.FailedAt.UnixMilli(), len(q.dead))
	q.dead = append(q.dead, dl)
	return dl.ID, nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context, count int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if count <= 0 {
		count = 50
	}
	var out []DeadLetter
	for i := len(q.dead) - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

func (q *MemoryQueue) index(id string) int {
	i := sort.Search(len(q.entries), func(i int) bool { return !entryLess(q.entries[i].id, id) })
	if i < len(q.entries) && q.entries[i].id == id {
		return i
	}
	return -1
}

func entryLess(a, b string) bool {
	var ams, aseq, bms, bseq int64
	fmt.Sscanf(a, "%d-%d", &ams, &aseq)
	fmt.Sscanf(b, "%d-%d", &bms, &bseq)
	if ams != bms {
		return ams < bms
	}
	return aseq < bseq
}

func memDelivery(e memEntry, deliveries int64) Delivery {
	job, err := DecodeJob(e.fields)
	if err != nil {
		err = merr.Fatal("jobqueue.decode", err)
	}
	return Delivery{EntryID: e.id, Job: job, Deliveries: deliveries, Err: err}
}

var _ Queue = (*MemoryQueue)(nil)
