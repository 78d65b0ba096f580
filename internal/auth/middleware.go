package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Middleware rejects requests without a valid bearer token and stores the
// acting user id in the request context.
func Middleware(tokens *Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			raw = strings.TrimSpace(raw)
			if !ok || !strings.EqualFold(scheme, "Bearer") || raw == "" {
				unauthorized(w)
				return
			}
			userID, err := tokens.Parse(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("rejected bearer token", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="stock"`)
	httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", shared.UserSafeMessage(shared.ErrUnauthenticated))
}
