package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"pawlink/pkg/config"
	"pawlink/pkg/logger"
	"pawlink/pkg/models"
	"pawlink/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
)

// SecConfig mirrors the security-related configuration used to drive
// authentication, CORS and rate limiting behavior.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
}

type ctxIdentityKey struct{}

// IdentityFromContext returns the verified caller identity, if any.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	if v := ctx.Value(ctxIdentityKey{}); v != nil {
		if id, ok := v.(models.Identity); ok {
			return id, true
		}
	}
	return models.Identity{}, false
}

// WithIdentity returns a context carrying the given identity. Tests and
// the broker use this to inject an already-verified caller.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// Sign computes the hex HMAC-SHA256 signature of userID under key. The
// backend calls this (via POST /v1/sign) when issuing a messaging session
// to a logged-in user; the frontend presents the result on every call.
func Sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks sig against all configured signing keys.
func verifySignature(userID, sig string) bool {
	for k := range config.GetSigningKeys() {
		expected := Sign(k, userID)
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// RequireIdentity verifies the user identity headers and injects the
// verified identity into the request context. Frontend callers must
// present a signature issued by the backend; backend callers are trusted
// to assert identity directly.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		userRole := strings.TrimSpace(r.Header.Get("X-User-Role"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if userID == "" || !models.ValidRole(userRole) {
			logger.Warn("missing_identity_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}

		if role != "backend" {
			if sig == "" {
				logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
				return
			}
			keys := config.GetSigningKeys()
			if len(keys) == 0 {
				logger.Error("no_signing_keys_configured")
				utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
				return
			}
			if !verifySignature(userID, sig) {
				logger.Warn("invalid_signature", "user", userID)
				utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
		}

		id := models.Identity{ID: userID, Role: models.Role(userRole)}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
