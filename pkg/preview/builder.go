// Package preview builds the streaming preview for a master: an HLS
// manifest, fixed-size transport segments and a thumbnail. Output is a pure
// function of the master bytes, so rebuilding a prefix rewrites the same keys
// with the same content.
package preview

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"

	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/objstore"
)

const (
	DefaultSegmentBytes    = 4 << 20
	DefaultSegmentDuration = 6.0

	ContentTypeManifest  = "application/vnd.apple.mpegurl"
	ContentTypeSegment   = "video/mp2t"
	ContentTypeThumbnail = "image/jpeg"

	thumbWidth  = 320
	thumbHeight = 180
)

// ErrEmptyMaster is returned for a zero-length master. It is not retryable.
var ErrEmptyMaster = errors.New("preview: master is empty")

// Artifact is one generated preview object.
type Artifact struct {
	Key         string
	ContentType string
	Size        int64
}

// PutFunc uploads one artifact. The builder calls it as soon as an artifact
// is ready so the whole master is never held in memory.
type PutFunc func(ctx context.Context, key, contentType string, data []byte) error

// Builder turns a master stream into preview artifacts under prefix.
type Builder interface {
	Build(ctx context.Context, master io.Reader, prefix string, put PutFunc) ([]Artifact, error)
}

// SegmentingBuilder cuts the master into fixed-size segments. Transcoding is
// left to an external codec; the segment layout and manifest are what the
// player and the pipeline depend on.
type SegmentingBuilder struct {
	SegmentBytes int
	// SegmentDuration is the nominal duration advertised per full segment.
	SegmentDuration float64
}

// NewSegmentingBuilder returns a builder with defaults applied.
func NewSegmentingBuilder(segmentBytes int) *SegmentingBuilder {
	if segmentBytes <= 0 {
		segmentBytes = DefaultSegmentBytes
	}
	return &SegmentingBuilder{SegmentBytes: segmentBytes, SegmentDuration: DefaultSegmentDuration}
}

func (b *SegmentingBuilder) Build(ctx context.Context, master io.Reader, prefix string, put PutFunc) ([]Artifact, error) {
	const op = "preview.build"
	if prefix == "" {
		return nil, merr.Fatal(op, errors.New("empty preview prefix"))
	}
	segBytes := b.SegmentBytes
	if segBytes <= 0 {
		segBytes = DefaultSegmentBytes
	}
	dur := b.SegmentDuration
	if dur <= 0 {
		dur = DefaultSegmentDuration
	}

	var (
		artifacts []Artifact
		durations []float64
		digest    = sha256.New()
		buf       = make([]byte, segBytes)
		r         = bufio.NewReaderSize(master, 64<<10)
	)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, merr.Build(op, err)
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			digest.Write(chunk)
			key := objstore.SegmentKey(prefix, i)
			if perr := put(ctx, key, ContentTypeSegment, chunk); perr != nil {
				return nil, wrapPut(op, perr)
			}
			artifacts = append(artifacts, Artifact{Key: key, ContentType: ContentTypeSegment, Size: int64(n)})
			durations = append(durations, dur*float64(n)/float64(segBytes))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, merr.Build(op, fmt.Errorf("read master: %w", err))
		}
	}
	if len(artifacts) == 0 {
		return nil, merr.Fatal(op, ErrEmptyMaster)
	}

	thumb, err := Thumbnail(digest.Sum(nil))
	if err != nil {
		return nil, merr.Build(op, err)
	}
	thumbKey := objstore.ThumbnailKey(prefix)
	if err := put(ctx, thumbKey, ContentTypeThumbnail, thumb); err != nil {
		return nil, wrapPut(op, err)
	}
	artifacts = append(artifacts, Artifact{Key: thumbKey, ContentType: ContentTypeThumbnail, Size: int64(len(thumb))})

	// The manifest goes last: a player that can read it can read every
	// segment it references.
	manifest := Manifest(durations, dur)
	manifestKey := objstore.ManifestKey(prefix)
	if err := put(ctx, manifestKey, ContentTypeManifest, manifest); err != nil {
		return nil, wrapPut(op, err)
	}
	artifacts = append(artifacts, Artifact{Key: manifestKey, ContentType: ContentTypeManifest, Size: int64(len(manifest))})

	return artifacts, nil
}

// Manifest renders a VOD HLS playlist for segments with the given durations.
func Manifest(durations []float64, target float64) []byte {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int(target+0.999))
	sb.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	sb.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for i, d := range durations {
		fmt.Fprintf(&sb, "#EXTINF:%.3f,\n%s\n", d, objstore.SegmentName(i))
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	return []byte(sb.String())
}

// Thumbnail renders a deterministic poster frame from seed.
func Thumbnail(seed []byte) ([]byte, error) {
	if len(seed) < 6 {
		seed = append(seed, make([]byte, 6-len(seed))...)
	}
	from := color.RGBA{seed[0], seed[1], seed[2], 0xff}
	to := color.RGBA{seed[3], seed[4], seed[5], 0xff}

	img := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	for x := 0; x < thumbWidth; x++ {
		c := color.RGBA{
			R: lerp(from.R, to.R, x, thumbWidth),
			G: lerp(from.G, to.G, x, thumbWidth),
			B: lerp(from.B, to.B, x, thumbWidth),
			A: 0xff,
		}
		for y := 0; y < thumbHeight; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func lerp(a, b uint8, i, n int) uint8 {
	return uint8(int(a) + (int(b)-int(a))*i/(n-1))
}

// wrapPut keeps storage errors retryable and classifies anything else as a
// transient build error.
func wrapPut(op string, err error) error {
	if merr.CodeOf(err) != merr.CodeUnknown {
		return err
	}
	return merr.Build(op, err)
}
