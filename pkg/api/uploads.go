package api

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/merr"
	"github.com/quatton/mam/pkg/promote"
)

const (
	MaxUploadBytes = 10 << 30

	minPresignExpiry     = 60
	maxPresignExpiry     = 3600
	defaultPresignExpiry = 3600
)

var contentTypeRe = regexp.MustCompile(`^(video|audio|image|application)/.+$`)

type PresignInput struct {
	Body PresignRequest
}

type PresignOutput struct {
	Body PresignResponse
}

type PromoteInput struct {
	Body PromoteRequest
}

type PromoteOutput struct {
	Status int
	Body   *assets.Asset
}

// RegisterUploads registers presign and promote.
func RegisterUploads(api huma.API, d *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "presign",
		Method:      http.MethodPost,
		Path:        "/presign",
		Summary:     "Presign a staging upload",
		Description: "Returns a URL the client can PUT the object to directly.",
		Tags:        []string{"Uploads"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: huma.Middlewares{RateLimit(api, d, "presign")},
	}, func(ctx context.Context, input *PresignInput) (*PresignOutput, error) {
		p, err := d.principal(ctx)
		if err != nil {
			return nil, err
		}
		req := input.Body
		cfg := d.Promoter.Config()
		if _, err := cfg.Keys.Validate(req.Key, p.ID); err != nil {
			return nil, toHTTP(err)
		}
		if req.ContentType != "" && !contentTypeRe.MatchString(req.ContentType) {
			return nil, toHTTP(merr.Errorf(merr.CodeInvalidContentType, "api.presign", "content type %q is not accepted", req.ContentType))
		}
		if req.ContentLength > MaxUploadBytes {
			return nil, toHTTP(merr.Errorf(merr.CodeTooLarge, "api.presign", "%d bytes exceeds the %d byte limit", req.ContentLength, int64(MaxUploadBytes)))
		}
		expires := req.Expires
		if expires == 0 {
			expires = defaultPresignExpiry
		}
		if expires < minPresignExpiry || expires > maxPresignExpiry {
			return nil, huma.Error400BadRequest("expires must be between 60 and 3600 seconds")
		}

		url, err := d.Store.PresignPut(ctx, cfg.StagingBucket, req.Key, time.Duration(expires)*time.Second)
		if err != nil {
			return nil, toHTTP(err)
		}
		return &PresignOutput{Body: PresignResponse{URL: url, Key: req.Key, Bucket: cfg.StagingBucket, ExpiresIn: expires}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "promote",
		Method:        http.MethodPost,
		Path:          "/promote",
		Summary:       "Promote a staging upload",
		Description:   "Copies the upload into master storage and schedules its preview build. Repeating the call for the same key returns the existing asset with 200.",
		Tags:          []string{"Uploads"},
		Security:      []map[string][]string{{"bearer": {}}},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *PromoteInput) (*PromoteOutput, error) {
		p, err := d.principal(ctx)
		if err != nil {
			return nil, err
		}
		a, created, err := d.Promoter.Promote(ctx, promote.Request{StagingKey: input.Body.StagingKey, Metadata: input.Body.Metadata}, p)
		if err != nil {
			return nil, toHTTP(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &PromoteOutput{Status: status, Body: a}, nil
	})
}
