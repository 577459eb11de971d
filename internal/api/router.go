package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleRegistryStats)

			r.Route("/{major}/{minor}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/requests", s.handleDeviceRequests)
				r.Post("/read", s.handleDeviceRead)
				r.Post("/write", s.handleDeviceWrite)
			})
		})

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", s.handleListRequests)
			r.Get("/{id}", s.handleGetRequest)
		})
		r.Get("/inventory", s.handleInventory)
	})

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get("/api/v1"+wsPath, s.handleWebSocket)

	return r
}

// healthResponse is returned by /health.
type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Devices int               `json:"devices"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth reports "ok" when every configured dependency passes its
// check and "degraded" (still 200) otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Devices: s.registry.Count(),
	}

	if len(s.checks) > 0 {
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name].HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
			} else {
				resp.Checks[name] = "ok"
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
