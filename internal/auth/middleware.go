package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// Middleware rejects requests without a valid bearer token and stores the
// principal in the request context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="cmms"`)
				httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "bearer token required")
				return
			}
			p, err := v.Verify(raw)
			if err != nil {
				logger.Debug("token rejected", slog.Any("error", err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="cmms", error="invalid_token"`)
				httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
