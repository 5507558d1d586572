package promote

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/objstore"
)

type fixture struct {
	svc   *Service
	repo  *assets.MemoryRepository
	store *objstore.MemoryStore
	queue *jobqueue.MemoryQueue

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1_700_000_000, 0)}
	f.repo = assets.NewMemoryRepositoryWithClock(f.clock)
	f.store = objstore.NewMemoryStore()
	f.queue = jobqueue.NewMemoryQueueWithClock(f.clock)
	f.svc = NewService(f.repo, f.store, f.queue, Config{
		StagingBucket:  "staging",
		MastersBucket:  "masters",
		PreviewsBucket: "previews",
		Retention:      365 * 24 * time.Hour,
		SettleInterval: 5 * time.Millisecond,
		ClaimHeartbeat: 5 * time.Millisecond,
	}, nil)
	f.svc.now = f.clock
	return f
}

var alice = &auth.Principal{ID: "alice"}

func TestPromoteCreatesAssetAndJob(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("staging", "uploads/video1.mp4", make([]byte, 1<<20), "video/mp4")

	a, created, err := f.svc.Promote(t.Context(), Request{
		StagingKey: "uploads/video1.mp4",
		Metadata:   map[string]any{"title": "Video 1", "year": float64(2024)},
	}, alice)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("created = false")
	}
	if a.Status != assets.StatusPreviewBuilding || a.MasterKey != "masters/video1.mp4" || a.OwnerID != "alice" {
		t.Fatalf("asset = %+v", a)
	}
	if !strings.HasPrefix(a.PreviewPrefix, "previews/video1-") || a.Metadata["year"] != "2024" {
		t.Fatalf("asset = %+v", a)
	}
	if f.store.Bytes("masters", "masters/video1.mp4") == nil {
		t.Fatal("master not copied")
	}

	jobs := f.queue.Jobs()
	if len(jobs) != 1 || jobs[0].ID != a.ID || jobs[0].PreviewPrefix != a.PreviewPrefix || jobs[0].MasterBucket != "masters" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestPromoteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("staging", "uploads/a.mp4", []byte("x"), "video/mp4")

	first, created, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/a.mp4"}, alice)
	if err != nil || !created {
		t.Fatalf("first: created=%v err=%v", created, err)
	}
	second, created, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/a.mp4"}, alice)
	if err != nil || created {
		t.Fatalf("second: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if n := f.store.Calls("copy"); n != 1 {
		t.Fatalf("copies = %d", n)
	}
	if n, _ := f.queue.Len(t.Context()); n != 1 {
		t.Fatalf("jobs = %d", n)
	}
}

func TestPromoteConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("staging", "uploads/race.mp4", []byte("x"), "video/mp4")

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, c, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/race.mp4"}, alice)
			if err != nil {
				t.Errorf("promote: %v", err)
				return
			}
			mu.Lock()
			ids[a.ID]++
			if c {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != 1 || created != 1 {
		t.Fatalf("ids=%v created=%d", ids, created)
	}
	if f.repo.Len() != 1 {
		t.Fatalf("assets = %d", f.repo.Len())
	}
	if c := f.store.Calls("copy"); c != 1 {
		t.Fatalf("copies = %d", c)
	}
	if l, _ := f.queue.Len(t.Context()); l != 1 {
		t.Fatalf("jobs = %d", l)
	}
}

func TestPromoteRejectsTraversalWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Promote(t.Context(), Request{StagingKey: "../../../etc/passwd"}, alice)
	if !merr.IsCode(err, merr.CodeInvalidKey) {
		t.Fatalf("err = %v", err)
	}
	if c := f.store.TotalCalls(); c != 0 {
		t.Fatalf("storage calls = %d", c)
	}
	if l, _ := f.queue.Len(t.Context()); l != 0 {
		t.Fatalf("jobs = %d", l)
	}
	if f.repo.Len() != 0 {
		t.Fatal("asset created")
	}
}

func TestPromotePerUserNamespace(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Keys.PerUser = true
	f.store.Seed("staging", "uploads/bob/a.mp4", []byte("x"), "video/mp4")

	_, _, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/bob/a.mp4"}, alice)
	if !merr.IsCode(err, merr.CodeInvalidKey) {
		t.Fatalf("err = %v", err)
	}
	if f.store.TotalCalls() != 0 {
		t.Fatal("storage touched")
	}
}

func TestPromoteRejectsBadMetadata(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("x", MaxMetadataValue+1)
	tooMany := map[string]any{}
	for i := range MaxMetadataEntries + 1 {
		tooMany["k"+strings.Repeat("x", i)] = "v"
	}
	cases := map[string]any{
		"array":        []any{"a"},
		"string":       "title",
		"nested":       map[string]any{"a": map[string]any{"b": 1}},
		"null value":   map[string]any{"a": nil},
		"bad key":      map[string]any{"has space": "v"},
		"long value":   map[string]any{"a": long},
		"many entries": tooMany,
	}
	for name, md := range cases {
		_, _, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/a.mp4", Metadata: md}, alice)
		if !merr.IsCode(err, merr.CodeInvalidMetadata) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if f.store.TotalCalls() != 0 {
		t.Fatal("storage touched on invalid metadata")
	}
}

func TestPromoteMissingStagingObject(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/missing.mp4"}, alice)
	if !merr.IsCode(err, merr.CodeNotFound) {
		t.Fatalf("err = %v", err)
	}
	if f.repo.Len() != 0 {
		t.Fatal("asset created for missing object")
	}
}

func TestPromoteCopyFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("staging", "uploads/a.mp4", []byte("x"), "video/mp4")
	f.store.FailCopy = errors.New("503 slow down")

	_, _, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/a.mp4"}, alice)
	if !merr.IsCode(err, merr.CodeStorage) {
		t.Fatalf("err = %v", err)
	}
	if f.repo.Len() != 0 {
		t.Fatal("claim not released")
	}
	if l, _ := f.queue.Len(t.Context()); l != 0 {
		t.Fatal("job enqueued after failed copy")
	}

	f.store.FailCopy = nil
	if _, created, err := f.svc.Promote(t.Context(), Request{StagingKey: "uploads/a.mp4"}, alice); err != nil || !created {
		t.Fatalf("retry: created=%v err=%v", created, err)
	}
}

func TestEnqueueFailureLeavesPromotedForReconciler(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.store.Seed("staging", "uploads/a.mp4", []byte("x"), "video/mp4")
	f.queue.FailEnqueue = errors.New("redis down")

	_, _, err := f.svc.Promote(ctx, Request{StagingKey: "uploads/a.mp4"}, alice)
	if !merr.IsCode(err, merr.CodeQueue) {
		t.Fatalf("err = %v", err)
	}
	a, err := f.repo.GetByStagingKey(ctx, "uploads/a.mp4")
	if err != nil || a.Status != assets.StatusPromoted {
		t.Fatalf("asset = %+v, %v", a, err)
	}

	// A client retry sees the existing asset and does not copy again.
	again, created, err := f.svc.Promote(ctx, Request{StagingKey: "uploads/a.mp4"}, alice)
	if err != nil || created || again.ID != a.ID {
		t.Fatalf("retry: %+v created=%v err=%v", again, created, err)
	}

	f.queue.FailEnqueue = nil
	rec := NewReconciler(f.svc, time.Minute, time.Minute)
	if n, err := rec.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("fresh sweep resumed %d, %v", n, err)
	}
	f.advance(2 * time.Minute)
	if n, err := rec.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("sweep resumed %d, %v", n, err)
	}

	a, _ = f.repo.Get(ctx, a.ID)
	if a.Status != assets.StatusPreviewBuilding {
		t.Fatalf("status = %s", a.Status)
	}
	if jobs := f.queue.Jobs(); len(jobs) != 1 || jobs[0].ID != a.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
	if c := f.store.Calls("copy"); c != 1 {
		t.Fatalf("copies = %d", c)
	}
}

func TestReconcilerResumesCrashedStagingClaim(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.store.Seed("staging", "uploads/crash.mp4", []byte("x"), "video/mp4")
	_ = f.repo.Create(ctx, &assets.Asset{
		ID: "0190a000-0000-7000-8000-000000000001", StagingKey: "uploads/crash.mp4",
		StagingBucket: "staging", Status: assets.StatusStaging,
	})
	_ = f.repo.Create(ctx, &assets.Asset{
		ID: "0190a000-0000-7000-8000-000000000002", StagingKey: "uploads/gone.mp4",
		StagingBucket: "staging", Status: assets.StatusStaging,
	})
	f.advance(10 * time.Minute)

	n, err := NewReconciler(f.svc, time.Minute, time.Minute).Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("resumed %d, %v", n, err)
	}
	a, _ := f.repo.GetByStagingKey(ctx, "uploads/crash.mp4")
	if a.Status != assets.StatusPreviewBuilding || a.MasterKey != "masters/crash.mp4" {
		t.Fatalf("asset = %+v", a)
	}
	if _, err := f.repo.GetByStagingKey(ctx, "uploads/gone.mp4"); !merr.IsCode(err, merr.CodeNotFound) {
		t.Fatalf("abandoned claim kept: %v", err)
	}
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.store.Seed("staging", "uploads/a.mp4", []byte("x"), "video/mp4")
	a, _, err := f.svc.Promote(ctx, Request{StagingKey: "uploads/a.mp4"}, alice)
	if err != nil {
		t.Fatal(err)
	}

	if _, retried, err := f.svc.Retry(ctx, a.ID); err != nil || retried {
		t.Fatalf("retry while building: retried=%v err=%v", retried, err)
	}

	_, _ = f.repo.Transition(ctx, a.ID, assets.Change{To: assets.StatusFailed, Error: assets.ErrorText("bad")})
	got, retried, err := f.svc.Retry(ctx, a.ID)
	if err != nil || !retried || got.Status != assets.StatusPreviewBuilding || got.Error != "" {
		t.Fatalf("retry: %+v retried=%v err=%v", got, retried, err)
	}
	if l, _ := f.queue.Len(ctx); l != 2 {
		t.Fatalf("jobs = %d", l)
	}

	_, _ = f.repo.Transition(ctx, a.ID, assets.Change{To: assets.StatusReady})
	if _, _, err := f.svc.Retry(ctx, a.ID); !merr.IsCode(err, merr.CodeInvalidTransition) {
		t.Fatalf("retry of ready asset: %v", err)
	}
	if _, _, err := f.svc.Retry(ctx, "nope"); !merr.IsCode(err, merr.CodeNotFound) {
		t.Fatalf("retry of missing asset: %v", err)
	}
}

func TestRetryEnqueueFailureRestoresFailed(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_ = f.repo.Create(ctx, &assets.Asset{ID: "id", StagingKey: "uploads/x", Status: assets.StatusStaging})
	_, _ = f.repo.Transition(ctx, "id", assets.Change{To: assets.StatusPromoted, MasterKey: "masters/x", MasterBucket: "masters", PreviewsBucket: "previews", PreviewPrefix: "previews/x-1"})
	_, _ = f.repo.Transition(ctx, "id", assets.Change{To: assets.StatusFailed})
	f.queue.FailEnqueue = errors.New("down")

	if _, _, err := f.svc.Retry(ctx, "id"); !merr.IsCode(err, merr.CodeQueue) {
		t.Fatalf("err = %v", err)
	}
	a, _ := f.repo.Get(ctx, "id")
	if a.Status != assets.StatusFailed || a.Error == "" {
		t.Fatalf("asset = %+v", a)
	}
}

type promoteResult struct {
	a       *assets.Asset
	created bool
	err     error
}

// holdCopy makes the first Copy block until the returned release is called.
func holdCopy(f *fixture) (entered <-chan struct{}, release func(), copies *atomic.Int32) {
	in := make(chan struct{})
	out := make(chan struct{})
	copies = new(atomic.Int32)
	f.store.BeforeCopy = func(string, string) {
		if copies.Add(1) == 1 {
			close(in)
			<-out
		}
	}
	return in, func() { close(out) }, copies
}

func (f *fixture) promoteAsync(t *testing.T, key string) <-chan promoteResult {
	done := make(chan promoteResult, 1)
	go func() {
		a, created, err := f.svc.Promote(t.Context(), Request{StagingKey: key}, alice)
		done <- promoteResult{a, created, err}
	}()
	return done
}

func TestReconcilerLeavesLiveCopyAlone(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.store.Seed("staging", "uploads/big.mp4", []byte("x"), "video/mp4")
	entered, release, copies := holdCopy(f)

	done := f.promoteAsync(t, "uploads/big.mp4")
	<-entered
	f.advance(10 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		a, err := f.repo.GetByStagingKey(ctx, "uploads/big.mp4")
		if err == nil && !a.UpdatedAt.Before(f.clock()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("claim never refreshed: %+v %v", a, err)
		}
		time.Sleep(time.Millisecond)
	}

	n, err := NewReconciler(f.svc, 2*time.Minute, time.Minute).Sweep(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep resumed %d during live copy, err %v", n, err)
	}

	release()
	res := <-done
	if res.err != nil || !res.created || res.a.Status != assets.StatusPreviewBuilding {
		t.Fatalf("promote = %+v", res)
	}
	if c := copies.Load(); c != 1 {
		t.Fatalf("copies = %d", c)
	}
	if l, _ := f.queue.Len(ctx); l != 1 {
		t.Fatalf("jobs = %d", l)
	}
}

func TestPromoteAcceptsAssetScheduledElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.store.Seed("staging", "uploads/slow.mp4", []byte("x"), "video/mp4")
	entered, release, _ := holdCopy(f)

	done := f.promoteAsync(t, "uploads/slow.mp4")
	<-entered

	claim, err := f.repo.GetByStagingKey(ctx, "uploads/slow.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.Transition(ctx, claim.ID, assets.Change{
		To:             assets.StatusPromoted,
		MasterKey:      "masters/slow.mp4",
		MasterBucket:   "masters",
		PreviewPrefix:  objstore.PreviewPrefix("masters/slow.mp4"),
		PreviewsBucket: "previews",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.repo.Transition(ctx, claim.ID, assets.Change{To: assets.StatusPreviewBuilding}); err != nil {
		t.Fatal(err)
	}

	release()
	res := <-done
	if res.err != nil {
		t.Fatalf("promote: %v", res.err)
	}
	if res.a.ID != claim.ID || res.a.Status != assets.StatusPreviewBuilding {
		t.Fatalf("asset = %+v", res.a)
	}
	if l, _ := f.queue.Len(ctx); l != 0 {
		t.Fatalf("promoter enqueued a second job: %d", l)
	}
}
