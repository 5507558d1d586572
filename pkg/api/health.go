package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type HealthOutput struct {
	Status int
	Body   HealthResponse
}

// RegisterHealth registers /health. Each check gets its own short timeout;
// any failure turns the response into a 503.
func RegisterHealth(api huma.API, d *Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{Status: http.StatusOK}
		resp.Body = HealthResponse{OK: true, Service: "mam", Time: time.Now().UTC(), Checks: map[string]string{}}

		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, check := range d.Checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				defer cancel()
				result := "ok"
				if err := check(cctx); err != nil {
					result = err.Error()
				}
				mu.Lock()
				resp.Body.Checks[name] = result
				if result != "ok" {
					resp.Body.OK = false
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		if !resp.Body.OK {
			resp.Status = http.StatusServiceUnavailable
		}
		return resp, nil
	})
}
