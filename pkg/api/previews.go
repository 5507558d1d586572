package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/quatton/mam/pkg/notify"
	"github.com/quatton/mam/pkg/objstore"
)

type PreviewStatusInput struct {
	Prefix string `query:"prefix" required:"true" doc:"Preview prefix returned by promote"`
}

type PreviewStatusOutput struct {
	Body notify.Status
}

type PreviewEventsInput struct {
	Prefix string `query:"prefix" required:"true"`
}

// StreamError is sent when a subscription cannot be set up.
type StreamError struct {
	Error string `json:"error"`
}

type SignPreviewInput struct {
	Body SignPreviewRequest
}

type SignPreviewOutput struct {
	Body SignPreviewResponse
}

// RegisterPreviews registers preview status, events and URL signing.
func RegisterPreviews(api huma.API, d *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-status",
		Method:      http.MethodGet,
		Path:        "/preview-status",
		Summary:     "Poll preview readiness",
		Tags:        []string{"Previews"},
	}, func(ctx context.Context, input *PreviewStatusInput) (*PreviewStatusOutput, error) {
		st, err := d.Notifier.GetStatus(ctx, input.Prefix)
		if err != nil {
			return nil, toHTTP(err)
		}
		return &PreviewStatusOutput{Body: st}, nil
	})

	sse.Register(api, huma.Operation{
		OperationID: "preview-events",
		Method:      http.MethodGet,
		Path:        "/preview-events",
		Summary:     "Wait for preview readiness",
		Description: "Sends one status event when the preview is ready, then ends the stream.",
		Tags:        []string{"Previews"},
	}, map[string]any{
		"status": notify.Event{},
		"error":  StreamError{},
	}, func(ctx context.Context, input *PreviewEventsInput, send sse.Sender) {
		events, err := d.Notifier.Subscribe(ctx, input.Prefix)
		if err != nil {
			d.Log.Warn("preview subscription failed", "prefix", input.Prefix, "error", err)
			_ = send.Data(StreamError{Error: err.Error()})
			return
		}
		if ev, ok := <-events; ok {
			_ = send.Data(ev)
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-preview",
		Method:      http.MethodPost,
		Path:        "/sign-preview",
		Summary:     "Sign a preview URL",
		Description: "Returns a time-limited edge URL for the preview manifest of an asset or prefix.",
		Tags:        []string{"Previews"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, func(ctx context.Context, input *SignPreviewInput) (*SignPreviewOutput, error) {
		if _, err := d.principal(ctx); err != nil {
			return nil, err
		}
		if d.Signer == nil {
			return nil, huma.Error503ServiceUnavailable("edge signing is not configured")
		}

		prefix := input.Body.PreviewPrefix
		switch {
		case input.Body.AssetID != "":
			a, err := d.Promoter.Get(ctx, input.Body.AssetID)
			if err != nil {
				return nil, toHTTP(err)
			}
			if a.PreviewPrefix == "" {
				return nil, huma.Error409Conflict("asset has no preview yet")
			}
			prefix = a.PreviewPrefix
		case prefix != "":
			if !objstore.IsPreviewPrefix(prefix) {
				return nil, huma.Error400BadRequest("previewPrefix is not a preview prefix")
			}
		default:
			return nil, huma.Error400BadRequest("assetId or previewPrefix is required")
		}

		url, exp, err := d.Signer.Sign(objstore.ManifestKey(prefix), d.SignedTTL)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		return &SignPreviewOutput{Body: SignPreviewResponse{URL: url, ExpiresAt: exp}}, nil
	})
}
