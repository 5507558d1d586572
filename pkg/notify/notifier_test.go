package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quatton/mam/pkg/assets"
)

func seed(t *testing.T, repo *assets.MemoryRepository, status assets.Status) {
	t.Helper()
	a := &assets.Asset{ID: "a1", StagingKey: "uploads/a.mp4", Status: status, PreviewPrefix: "previews/a-1"}
	if err := repo.Create(t.Context(), a); err != nil {
		t.Fatal(err)
	}
}

func TestGetStatus(t *testing.T) {
	ctx := t.Context()
	repo := assets.NewMemoryRepository()
	n := New(repo, nil, nil)

	st, err := n.GetStatus(ctx, "previews/unknown")
	if err != nil || st.Ready {
		t.Fatalf("unknown prefix = %+v, %v", st, err)
	}

	seed(t, repo, assets.StatusPreviewBuilding)
	st, _ = n.GetStatus(ctx, "previews/a-1")
	if st.Ready || st.Status != assets.StatusPreviewBuilding {
		t.Fatalf("building = %+v", st)
	}

	if _, err := repo.Transition(ctx, "a1", assets.Change{To: assets.StatusReady}); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		st, _ = n.GetStatus(ctx, "previews/a-1")
		if !st.Ready {
			t.Fatalf("ready = %+v", st)
		}
	}
}

func TestSubscribeReceivesOneEvent(t *testing.T) {
	ctx := t.Context()
	repo := assets.NewMemoryRepository()
	seed(t, repo, assets.StatusPreviewBuilding)
	n := New(repo, nil, nil)

	ch, err := n.Subscribe(ctx, "previews/a-1")
	if err != nil {
		t.Fatal(err)
	}
	_ = n.Publish(ctx, "previews/a-1")
	_ = n.Publish(ctx, "previews/a-1")

	var events []Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("channel not closed")
		}
	}
	if len(events) != 1 || !events[0].Ready || events[0].Prefix != "previews/a-1" {
		t.Fatalf("events = %+v", events)
	}
	if n.Hub().Len() != 0 {
		t.Fatalf("hub still holds %d subscriptions", n.Hub().Len())
	}
}

func TestSubscribeAlreadyReady(t *testing.T) {
	repo := assets.NewMemoryRepository()
	seed(t, repo, assets.StatusPreviewBuilding)
	_, _ = repo.Transition(t.Context(), "a1", assets.Change{To: assets.StatusReady})
	n := New(repo, nil, nil)

	ch, err := n.Subscribe(t.Context(), "previews/a-1")
	if err != nil {
		t.Fatal(err)
	}
	ev, ok := <-ch
	if !ok || !ev.Ready {
		t.Fatalf("event = %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("second event delivered")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	repo := assets.NewMemoryRepository()
	n := New(repo, nil, nil)

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := n.Subscribe(ctx, "previews/never")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

// flakyBroker fails its first listens, then relays prefixes from feed.
type flakyBroker struct {
	failures int32
	listens  atomic.Int32
	feed     chan string
}

func (b *flakyBroker) Publish(ctx context.Context, prefix string) error {
	b.feed <- prefix
	return nil
}

func (b *flakyBroker) Listen(ctx context.Context, fn func(prefix string)) error {
	if b.listens.Add(1) <= b.failures {
		return errors.New("subscribe: connection refused")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-b.feed:
			fn(p)
		}
	}
}

func TestRunRestartsFailedListener(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	repo := assets.NewMemoryRepository()
	seed(t, repo, assets.StatusPreviewBuilding)

	broker := &flakyBroker{failures: 3, feed: make(chan string, 1)}
	n := New(repo, broker, nil)
	n.retryBase = time.Millisecond
	n.retryMax = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	events, err := n.Subscribe(ctx, "previews/a-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Transition(ctx, "a1", assets.Change{To: assets.StatusReady}); err != nil {
		t.Fatal(err)
	}
	if err := n.Publish(ctx, "previews/a-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if !ev.Ready {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event after %d listens", broker.listens.Load())
	}
	if l := broker.listens.Load(); l != 4 {
		t.Fatalf("listens = %d", l)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	n := New(assets.NewMemoryRepository(), nil, nil)
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := n.backoff(i); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i, got, w)
		}
	}
	if got := n.backoff(20); got != 30*time.Second {
		t.Errorf("backoff(20) = %v", got)
	}
}
