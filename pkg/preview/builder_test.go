package preview

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"github.com/quatton/mam/pkg/merr"
)

type recorder struct {
	mu   sync.Mutex
	objs map[string][]byte
	fail func(key string) error
}

func (r *recorder) put(ctx context.Context, key, contentType string, data []byte) error {
	if r.fail != nil {
		if err := r.fail(key); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.objs == nil {
		r.objs = map[string][]byte{}
	}
	r.objs[key] = append([]byte(nil), data...)
	return nil
}

func TestBuildSingleSegment(t *testing.T) {
	b := NewSegmentingBuilder(0)
	rec := &recorder{}
	master := bytes.Repeat([]byte{0x47}, 1<<20)

	arts, err := b.Build(t.Context(), bytes.NewReader(master), "previews/video1-abcd", rec.put)
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 3 {
		t.Fatalf("artifacts = %+v", arts)
	}
	for _, key := range []string{
		"previews/video1-abcd/index.m3u8",
		"previews/video1-abcd/segment000.ts",
		"previews/video1-abcd/thumbnail.jpg",
	} {
		if _, ok := rec.objs[key]; !ok {
			t.Errorf("missing %s", key)
		}
	}
	if arts[len(arts)-1].Key != "previews/video1-abcd/index.m3u8" {
		t.Errorf("manifest not written last: %+v", arts)
	}
	if _, err := jpeg.Decode(bytes.NewReader(rec.objs["previews/video1-abcd/thumbnail.jpg"])); err != nil {
		t.Errorf("thumbnail is not a jpeg: %v", err)
	}
	m := string(rec.objs["previews/video1-abcd/index.m3u8"])
	if !strings.HasPrefix(m, "#EXTM3U\n") || !strings.Contains(m, "segment000.ts") || !strings.HasSuffix(m, "#EXT-X-ENDLIST\n") {
		t.Errorf("manifest = %q", m)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewSegmentingBuilder(1000)
	master := bytes.Repeat([]byte("abcdefg"), 500)

	first, second := &recorder{}, &recorder{}
	if _, err := b.Build(t.Context(), bytes.NewReader(master), "p", first.put); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(t.Context(), bytes.NewReader(master), "p", second.put); err != nil {
		t.Fatal(err)
	}
	if len(first.objs) != 6 { // 4 segments, thumbnail, manifest
		t.Fatalf("objects = %d", len(first.objs))
	}
	for k, v := range first.objs {
		if !bytes.Equal(v, second.objs[k]) {
			t.Errorf("%s differs between builds", k)
		}
	}
}

func TestBuildEmptyMasterIsFatal(t *testing.T) {
	_, err := NewSegmentingBuilder(0).Build(t.Context(), bytes.NewReader(nil), "p", (&recorder{}).put)
	if !merr.IsCode(err, merr.CodeBuildFatal) || !errors.Is(err, ErrEmptyMaster) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildPutFailureIsRetryable(t *testing.T) {
	rec := &recorder{fail: func(key string) error {
		if strings.HasSuffix(key, ".jpg") {
			return errors.New("connection reset")
		}
		return nil
	}}
	_, err := NewSegmentingBuilder(0).Build(t.Context(), strings.NewReader("data"), "p", rec.put)
	if !merr.IsRetryable(err) || merr.CodeOf(err) != merr.CodeBuild {
		t.Fatalf("err = %v", err)
	}

	storageErr := merr.Storage("objstore.put", errors.New("503"))
	rec.fail = func(string) error { return storageErr }
	_, err = NewSegmentingBuilder(0).Build(t.Context(), strings.NewReader("data"), "p", rec.put)
	if merr.CodeOf(err) != merr.CodeStorage {
		t.Fatalf("storage error reclassified: %v", err)
	}
}

func TestManifestTargetDuration(t *testing.T) {
	m := string(Manifest([]float64{6, 6, 1.5}, 6))
	if !strings.Contains(m, "#EXT-X-TARGETDURATION:6\n") || !strings.Contains(m, "#EXTINF:1.500,\nsegment002.ts\n") {
		t.Fatalf("manifest = %q", m)
	}
}
