package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// DependencyCheck pings one backing service.
type DependencyCheck func(ctx context.Context) error

// HealthHandler answers liveness probes.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"OK"}`)
	}
}

// ReadyHandler reports READY only while every dependency answers its ping.
func ReadyHandler(checks map[string]DependencyCheck, logger domain.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		dependencies := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				ready = false
				dependencies[name] = "disconnected"
				logger.Warn(r.Context(), "Readiness check failed", "dependency", name, "error", err.Error())
				continue
			}
			dependencies[name] = "connected"
		}

		response := struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies"`
		}{Status: "READY", Dependencies: dependencies}

		status := http.StatusOK
		if !ready {
			response.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error(r.Context(), "Failed to encode readiness response", "error", err.Error())
		}
	}
}
