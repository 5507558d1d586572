package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/auth"
)

type AssetInput struct {
	ID string `path:"id" doc:"Asset ID"`
}

type AssetOutput struct {
	Body *assets.Asset
}

type RetryOutput struct {
	Body RetryResponse
}

// RegisterAssets registers asset lookup and retry.
func RegisterAssets(api huma.API, d *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "get-asset",
		Method:      http.MethodGet,
		Path:        "/assets/{id}",
		Summary:     "Get an asset",
		Tags:        []string{"Assets"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, func(ctx context.Context, input *AssetInput) (*AssetOutput, error) {
		a, err := d.ownedAsset(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &AssetOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-asset",
		Method:      http.MethodPost,
		Path:        "/assets/{id}/retry",
		Summary:     "Retry a failed preview build",
		Description: "Schedules a new build for a failed asset. Assets whose build is already scheduled are returned unchanged.",
		Tags:        []string{"Assets"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, func(ctx context.Context, input *AssetInput) (*RetryOutput, error) {
		if _, err := d.ownedAsset(ctx, input.ID); err != nil {
			return nil, err
		}
		a, retried, err := d.Promoter.Retry(ctx, input.ID)
		if err != nil {
			return nil, toHTTP(err)
		}
		return &RetryOutput{Body: RetryResponse{Asset: a, Retried: retried}}, nil
	})
}

// ownedAsset loads an asset visible to the caller. Other owners' assets are
// reported as missing unless the caller is an admin.
func (d *Deps) ownedAsset(ctx context.Context, id string) (*assets.Asset, error) {
	p, err := d.principal(ctx)
	if err != nil {
		return nil, err
	}
	a, err := d.Promoter.Get(ctx, id)
	if err != nil {
		return nil, toHTTP(err)
	}
	if !visible(p, a) {
		return nil, huma.Error404NotFound("asset not found")
	}
	return a, nil
}

func visible(p *auth.Principal, a *assets.Asset) bool {
	return p.IsAdmin() || a.OwnerID == "" || a.OwnerID == p.ID
}
