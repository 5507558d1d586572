package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/mam/pkg/auth"
	"github.com/quatton/mam/pkg/metrics"
)

// RateLimit counts requests per principal (or client IP) in fixed windows
// stored in d.Limiter. Limiter errors let the request through.
func RateLimit(api huma.API, d *Deps, route string) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if d.Limiter == nil || d.PresignMax <= 0 || d.PresignWindow <= 0 {
			next(ctx)
			return
		}

		who := clientIP(ctx.RemoteAddr())
		if p, ok := auth.FromContext(ctx.Context()); ok {
			who = "u:" + p.ID
		}
		key := fmt.Sprintf("rl:%s:%s", route, who)

		n, err := d.Limiter.Incr(ctx.Context(), key, d.PresignWindow)
		if err != nil {
			d.Log.Warn("rate limiter unavailable", "route", route, "error", err)
			next(ctx)
			return
		}
		remaining := max(d.PresignMax-n, 0)
		ctx.SetHeader("X-RateLimit-Limit", strconv.FormatInt(d.PresignMax, 10))
		ctx.SetHeader("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if n > d.PresignMax {
			metrics.RateLimited.WithLabelValues(route).Inc()
			ctx.SetHeader("Retry-After", strconv.Itoa(int(d.PresignWindow.Seconds())))
			huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(ctx)
	}
}

func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	return remote
}
