package auth

import (
	"net/http"
	"strings"

	"github.com/appetiteclub/apt"
)

type Authenticator struct {
	verifier *TokenVerifier
	blocks   BlockChecker
	logger   apt.Logger
}

func NewAuthenticator(verifier *TokenVerifier, blocks BlockChecker, logger apt.Logger) *Authenticator {
	if blocks == nil {
		blocks = NoBlockList{}
	}
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Authenticator{verifier: verifier, blocks: blocks, logger: logger}
}

// Middleware resolves the bearer token into a Principal stored in the request
// context. Missing or invalid tokens get 401, blocked callers 403.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			apt.RespondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		p, err := a.verifier.Verify(raw)
		if err != nil {
			apt.RespondError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		blocked, err := a.blocks.IsBlocked(r.Context(), p.UserID)
		if err != nil {
			a.logger.Error("cannot check block list", "user_id", p.UserID, "error", err)
			apt.RespondError(w, http.StatusServiceUnavailable, "authorization backend unavailable")
			return
		}
		if blocked {
			apt.RespondError(w, http.StatusForbidden, "user is blocked")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			apt.RespondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if !p.IsAdmin() {
			apt.RespondError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
