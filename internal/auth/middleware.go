package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"upcontacts/internal/observability"
)

type accountContextKey struct{}

func WithAccount(ctx context.Context, account Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext returns the account attached by Middleware.
func AccountFromContext(ctx context.Context) (Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(Account)
	return account, ok
}

// Middleware resolves the bearer token of every request and rejects the
// request when no authenticated account can be produced.
func Middleware(resolver *Resolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			unauthorized(w, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(w, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			unauthorized(w, "invalid authorization token")
			return
		}

		account, err := resolver.Resolve(r.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrAccountNotFound):
				unauthorized(w, "could not validate credentials")
			case errors.Is(err, ErrNotVerified):
				writeError(w, http.StatusForbidden, "email not verified")
			default:
				observability.CaptureRequestError(r, err)
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}
