package mamsdk

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quatton/mam/pkg/api"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/notify"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/promote"
)

func newServer(t *testing.T) (*Client, *objstore.MemoryStore, *jobqueue.MemoryQueue) {
	t.Helper()
	repo := assets.NewMemoryRepository()
	store := objstore.NewMemoryStore()
	queue := jobqueue.NewMemoryQueue()
	if err := queue.EnsureGroup(t.Context(), "previewers"); err != nil {
		t.Fatal(err)
	}
	a := api.NewApi(&api.Deps{
		Promoter: promote.NewService(repo, store, queue, promote.Config{
			StagingBucket: "staging", MastersBucket: "masters", PreviewsBucket: "previews",
		}, nil),
		Store:    store,
		Queue:    queue,
		Notifier: notify.New(repo, nil, nil),
		Auth:     auth.NewAuthenticator(nil, true, nil),
	})
	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)
	return New(&Config{BaseURL: srv.URL + "/"}), store, queue
}

func TestClientRoundTrip(t *testing.T) {
	c, store, queue := newServer(t)
	ctx := t.Context()
	store.Seed("staging", "uploads/a.mp4", []byte("x"), "video/mp4")

	a, err := c.Promote(ctx, "uploads/a.mp4", map[string]string{"title": "A"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Asset(ctx, a.ID)
	if err != nil || got.StagingKey != "uploads/a.mp4" || got.Metadata["title"] != "A" {
		t.Fatalf("asset = %+v, %v", got, err)
	}

	ready, status, err := c.PreviewStatus(ctx, a.PreviewPrefix)
	if err != nil || ready || status != assets.StatusPreviewBuilding {
		t.Fatalf("status = %v %s %v", ready, status, err)
	}

	if _, err := queue.ReadGroup(ctx, "previewers", "w1", 1, 0); err != nil {
		t.Fatal(err)
	}
	pending, err := c.Pending(ctx, 0)
	if err != nil || len(pending) != 1 || pending[0].Consumer != "w1" {
		t.Fatalf("pending = %+v, %v", pending, err)
	}

	if _, err := queue.DeadLetter(ctx, jobqueue.DeadLetter{JobID: a.ID, Reason: "boom", Deliveries: 4, FailedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	dls, err := c.DeadLetters(ctx, 10)
	if err != nil || len(dls) != 1 || dls[0].Reason != "boom" {
		t.Fatalf("dead letters = %+v, %v", dls, err)
	}

	_, retried, err := c.Retry(ctx, a.ID)
	if err != nil || retried {
		t.Fatalf("retry while building = %v, %v", retried, err)
	}
}

func TestClientErrors(t *testing.T) {
	c, _, _ := newServer(t)
	ctx := t.Context()

	_, err := c.Asset(ctx, "missing")
	if !merr.IsCode(err, merr.CodeNotFound) {
		t.Fatalf("err = %v", err)
	}
	_, err = c.Promote(ctx, "../x", nil)
	if merr.CodeOf(err) != merr.CodeInvalidKey {
		t.Fatalf("err = %v", err)
	}
}
