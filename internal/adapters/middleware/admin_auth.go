package middleware

import (
	"crypto/subtle"
	"net/http"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

const apiKeyHeaderName = "X-API-Key"

// AdminAPIKeyAuthMiddleware guards the admin endpoints with the shared key from auth.admin_api_key.
// The key is read on every request so a config reload rotates it without a restart.
func AdminAPIKeyAuthMiddleware(cfgProvider config.Provider, logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgProvider.Get()
			if cfg == nil || cfg.Auth.AdminAPIKey == "" {
				logger.Error(r.Context(), "Admin auth failed: admin API key not configured", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrServiceUnavailable, "Admin endpoints disabled", "auth.admin_api_key is not configured.").WriteJSON(w, http.StatusServiceUnavailable)
				return
			}

			provided := r.Header.Get(apiKeyHeaderName)
			if provided == "" {
				logger.Warn(r.Context(), "Admin auth failed: API key missing", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrInvalidAPIKey, "API key is required", "Provide the admin API key in the X-API-Key header.").WriteJSON(w, http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.Auth.AdminAPIKey)) != 1 {
				logger.Warn(r.Context(), "Admin auth failed: invalid API key", "path", r.URL.Path)
				domain.NewErrorResponse(domain.ErrInvalidAPIKey, "Invalid API key", "The provided API key is not valid.").WriteJSON(w, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
