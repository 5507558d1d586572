// Package api is the HTTP surface of the pipeline: huma operations on a chi
// router, plus the plain chi routes for the signed preview proxy and
// Prometheus.
package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/edgesign"
	"github.com/quatton/mam/pkg/jobqueue"
	"github.com/quatton/mam/pkg/kv"
	"github.com/quatton/mam/pkg/metrics"
	"github.com/quatton/mam/pkg/mlog"
	"github.com/quatton/mam/pkg/notify"
	"github.com/quatton/mam/pkg/objstore"
	"github.com/quatton/mam/pkg/promote"
)

// Check is a named dependency probe for /health.
type Check func(ctx context.Context) error

// Deps are the handles the routes work with. Signer, Limiter and Checks
// may be nil.
type Deps struct {
	Promoter *promote.Service
	Store    objstore.Store
	Queue    jobqueue.Queue
	Group    string
	Notifier *notify.Notifier
	Auth     *auth.Authenticator

	Signer    *edgesign.Signer
	SignedTTL time.Duration

	Limiter       kv.Store
	PresignMax    int64
	PresignWindow time.Duration

	Checks map[string]Check
	Log    *mlog.Logger
}

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

// NewApi builds the router and registers every route.
func NewApi(d *Deps) *Api {
	if d.Log == nil {
		d.Log = mlog.Discard()
	}
	if d.Group == "" {
		d.Group = "previewers"
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("mam", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
			Description:  "HMAC-signed JWT with audience \"mam\"",
		},
	}

	api := humachi.New(router, config)
	if d.Auth != nil {
		api.UseMiddleware(d.Auth.Middleware())
	}

	RegisterUploads(api, d)
	RegisterPreviews(api, d)
	RegisterAssets(api, d)
	RegisterAdmin(api, d)
	RegisterHealth(api, d)

	router.Handle("/metrics", metrics.Handler())
	router.Get(edgesign.PathPrefix+"*", NewEdgeProxy(d.Signer, d.Store, d.Promoter.Config().PreviewsBucket, d.Log).ServeHTTP)

	return &Api{Api: api, Router: router}
}

func (d *Deps) principal(ctx context.Context) (*auth.Principal, error) {
	if d.Auth == nil {
		return auth.DevPrincipal, nil
	}
	p, err := d.Auth.Require(ctx)
	return p, toHTTP(err)
}

func (d *Deps) admin(ctx context.Context) (*auth.Principal, error) {
	if d.Auth == nil {
		return auth.DevPrincipal, nil
	}
	p, err := d.Auth.RequireAdmin(ctx)
	return p, toHTTP(err)
}
