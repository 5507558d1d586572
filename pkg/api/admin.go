package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type DeadLettersInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000"`
}

type DeadLettersOutput struct {
	Body DeadLettersResponse
}

type PendingInput struct {
	MinIdle string `query:"minIdle" default:"0s" doc:"Only entries idle for at least this long, e.g. 60s"`
}

type PendingOutput struct {
	Body PendingResponse
}

// RegisterAdmin registers the operator endpoints.
func RegisterAdmin(api huma.API, d *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-dead-letters",
		Method:      http.MethodGet,
		Path:        "/admin/dead-letters",
		Summary:     "List dead-lettered jobs",
		Description: "Newest first.",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, func(ctx context.Context, input *DeadLettersInput) (*DeadLettersOutput, error) {
		if _, err := d.admin(ctx); err != nil {
			return nil, err
		}
		dls, err := d.Queue.DeadLetters(ctx, input.Limit)
		if err != nil {
			return nil, toHTTP(err)
		}
		resp := &DeadLettersOutput{}
		resp.Body.DeadLetters = dls
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending",
		Method:      http.MethodGet,
		Path:        "/admin/pending",
		Summary:     "List delivered but unacknowledged jobs",
		Tags:        []string{"Admin"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, func(ctx context.Context, input *PendingInput) (*PendingOutput, error) {
		if _, err := d.admin(ctx); err != nil {
			return nil, err
		}
		minIdle, err := time.ParseDuration(input.MinIdle)
		if err != nil || minIdle < 0 {
			return nil, huma.Error400BadRequest("minIdle must be a non-negative duration")
		}
		entries, err := d.Queue.Pending(ctx, d.Group, minIdle)
		if err != nil {
			return nil, toHTTP(err)
		}
		resp := &PendingOutput{}
		resp.Body.Pending = make([]PendingEntry, 0, len(entries))
		for _, e := range entries {
			resp.Body.Pending = append(resp.Body.Pending, PendingEntry{
				EntryID:    e.EntryID,
				Consumer:   e.Consumer,
				IdleMS:     e.Idle.Milliseconds(),
				Deliveries: e.Deliveries,
			})
		}
		return resp, nil
	})
}
