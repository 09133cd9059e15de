package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

var errNotConfigured = errors.New("dependency not configured")

// Pinger reports whether a dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger adapts a go-redis client to Pinger.
func RedisPinger(client *redis.Client) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	env      string
	version  string
}

func NewHealthHandler(postgres, redis Pinger, env, version string) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails with 503 when Postgres is down. Without Redis bookings are
// rejected as busy but reads still work, so that only degrades.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var pgErr, redisErr error
	var g errgroup.Group
	g.Go(func() error { pgErr = ping(ctx, h.postgres); return nil })
	g.Go(func() error { redisErr = ping(ctx, h.redis); return nil })
	_ = g.Wait()

	resp := ReadinessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
		Dependencies: map[string]string{
			"postgres": depState(pgErr),
			"redis":    depState(redisErr),
		},
	}

	code := http.StatusOK
	switch {
	case pgErr != nil:
		resp.Status = "error"
		code = http.StatusServiceUnavailable
	case redisErr != nil:
		resp.Status = "degraded"
	}

	writeJSON(w, code, resp)
}

func depState(err error) string {
	if err != nil {
		return "down"
	}
	return "ok"
}

func ping(ctx context.Context, p Pinger) error {
	if p == nil {
		return errNotConfigured
	}
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Ping(pingCtx)
}
