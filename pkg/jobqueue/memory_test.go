package jobqueue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quatton/mam/pkg/merr"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testJob(id string) Job {
	return Job{
		ID:             id,
		MasterKey:      "masters/" + id + ".mp4",
		MasterBucket:   "masters",
		PreviewsBucket: "previews",
		PreviewPrefix:  "previews/" + id,
	}
}

func TestConsumersReceiveDisjointEntries(t *testing.T) {
	ctx := t.Context()
	q := NewMemoryQueue()
	if err := q.EnsureGroup(ctx, "g"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := q.Enqueue(ctx, testJob(id)); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]string{}
	for _, consumer := range []string{"w1", "w2", "w1", "w2"} {
		ds, err := q.ReadGroup(ctx, "g", consumer, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(ds) != 1 {
			t.Fatalf("%s got %d deliveries", consumer, len(ds))
		}
		if prev, dup := seen[ds[0].Job.ID]; dup {
			t.Fatalf("job %s delivered to %s and %s", ds[0].Job.ID, prev, consumer)
		}
		seen[ds[0].Job.ID] = consumer
	}
	ds, _ := q.ReadGroup(ctx, "g", "w3", 10, 0)
	if len(ds) != 0 {
		t.Fatalf("expected no new entries, got %d", len(ds))
	}
}

func TestReadGroupBlockTimeout(t *testing.T) {
	ctx := t.Context()
	q := NewMemoryQueue()
	_ = q.EnsureGroup(ctx, "g")

	start := time.Now()
	ds, err := q.ReadGroup(ctx, "g", "w1", 1, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout should not be an error: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("got %d deliveries", len(ds))
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("ReadGroup returned before the block timeout")
	}
}

func TestReadGroupWakesOnEnqueue(t *testing.T) {
	ctx := t.Context()
	q := NewMemoryQueue()
	_ = q.EnsureGroup(ctx, "g")

	done := make(chan []Delivery, 1)
	go func() {
		ds, _ := q.ReadGroup(ctx, "g", "w1", 1, 5*time.Second)
		done <- ds
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := q.Enqueue(ctx, testJob("a")); err != nil {
		t.Fatal(err)
	}

	select {
	case ds := <-done:
		if len(ds) != 1 || ds[0].Job.ID != "a" {
			t.Fatalf("deliveries = %+v", ds)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader was not woken")
	}
}

func TestReadGroupMissingGroup(t *testing.T) {
	q := NewMemoryQueue()
	_, err := q.ReadGroup(t.Context(), "nope", "w1", 1, 0)
	if !errors.Is(err, ErrNoGroup) || !merr.IsCode(err, merr.CodeQueue) {
		t.Fatalf("err = %v", err)
	}
}

func TestPendingAckAndReclaim(t *testing.T) {
	ctx := t.Context()
	clock := newFakeClock()
	q := NewMemoryQueueWithClock(clock.Now)
	_ = q.EnsureGroup(ctx, "g")
	_, _ = q.Enqueue(ctx, testJob("a"))
	_, _ = q.Enqueue(ctx, testJob("b"))

	ds, _ := q.ReadGroup(ctx, "g", "dead-worker", 2, 0)
	if len(ds) != 2 {
		t.Fatalf("got %d deliveries", len(ds))
	}
	if n, _ := q.Ack(ctx, "g", ds[1].EntryID); n != 1 {
		t.Fatalf("ack = %d", n)
	}
	if n, _ := q.Ack(ctx, "g", ds[1].EntryID); n != 0 {
		t.Fatalf("second ack = %d", n)
	}

	if p, _ := q.Pending(ctx, "g", time.Minute); len(p) != 0 {
		t.Fatalf("entry idle too early: %+v", p)
	}
	clock.Advance(61 * time.Second)
	p, err := q.Pending(ctx, "g", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 1 || p[0].EntryID != ds[0].EntryID || p[0].Consumer != "dead-worker" || p[0].Deliveries != 1 {
		t.Fatalf("pending = %+v", p)
	}

	got, err := q.Reclaim(ctx, "g", "live-worker", time.Minute, p[0].EntryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Deliveries != 2 || got[0].Job.ID != "a" {
		t.Fatalf("reclaimed = %+v", got)
	}

	// A second reclaimer loses: the entry is no longer idle.
	if again, _ := q.Reclaim(ctx, "g", "other", time.Minute, p[0].EntryID); len(again) != 0 {
		t.Fatalf("entry reclaimed twice: %+v", again)
	}

	clock.Advance(2 * time.Minute)
	p, _ = q.Pending(ctx, "g", time.Minute)
	if len(p) != 1 || p[0].Consumer != "live-worker" || p[0].Deliveries != 2 {
		t.Fatalf("pending after reclaim = %+v", p)
	}
}

func TestTouchKeepsEntryWithOwner(t *testing.T) {
	ctx := t.Context()
	clock := newFakeClock()
	q := NewMemoryQueueWithClock(clock.Now)
	_ = q.EnsureGroup(ctx, "g")
	_, _ = q.Enqueue(ctx, testJob("a"))
	ds, _ := q.ReadGroup(ctx, "g", "busy", 1, 0)
	id := ds[0].EntryID

	clock.Advance(50 * time.Second)
	if n, err := q.Touch(ctx, "g", "busy", id); err != nil || n != 1 {
		t.Fatalf("touch = %d, %v", n, err)
	}
	clock.Advance(50 * time.Second)
	if p, _ := q.Pending(ctx, "g", time.Minute); len(p) != 0 {
		t.Fatalf("touched entry reported idle: %+v", p)
	}
	if got, _ := q.Reclaim(ctx, "g", "other", time.Minute, id); len(got) != 0 {
		t.Fatalf("touched entry reclaimed: %+v", got)
	}

	// Only the owner can refresh, and refreshing never counts a delivery.
	if n, _ := q.Touch(ctx, "g", "other", id); n != 0 {
		t.Fatalf("foreign touch = %d", n)
	}
	clock.Advance(time.Minute)
	p, _ := q.Pending(ctx, "g", time.Minute)
	if len(p) != 1 || p[0].Consumer != "busy" || p[0].Deliveries != 1 {
		t.Fatalf("pending = %+v", p)
	}
}

func TestMalformedEntryIsDelivered(t *testing.T) {
	ctx := t.Context()
	q := NewMemoryQueue()
	_ = q.EnsureGroup(ctx, "g")
	q.AppendRaw(map[string]any{"jobId": "x"})

	ds, err := q.ReadGroup(ctx, "g", "w1", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Err == nil {
		t.Fatalf("deliveries = %+v", ds)
	}
	if !errors.Is(ds[0].Err, ErrMalformedJob) || !merr.IsCode(ds[0].Err, merr.CodeBuildFatal) {
		t.Fatalf("decode err = %v", ds[0].Err)
	}
	if ds[0].Job.ID != "x" {
		t.Fatalf("partial job = %+v", ds[0].Job)
	}
}

func TestEnqueueFailureAndDeadLetters(t *testing.T) {
	ctx := t.Context()
	q := NewMemoryQueue()
	q.FailEnqueue = errors.New("redis down")
	if _, err := q.Enqueue(ctx, testJob("a")); !merr.IsCode(err, merr.CodeQueue) {
		t.Fatalf("err = %v", err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("len = %d", n)
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.DeadLetter(ctx, DeadLetter{JobID: id, Reason: "boom", Deliveries: 4}); err != nil {
			t.Fatal(err)
		}
	}
	dls, _ := q.DeadLetters(ctx, 2)
	if len(dls) != 2 || dls[0].JobID != "c" || dls[1].JobID != "b" {
		t.Fatalf("dead letters = %+v", dls)
	}
}
