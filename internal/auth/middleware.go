package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

type claimsKey struct{}

// Validator validates bearer tokens
type Validator interface {
	ValidateJWT(tokenString string) (*types.UserClaims, error)
}

// Middleware validates the bearer token of every request except the
// public paths and stores the claims in the request context.
func Middleware(validator Validator, log *logger.Logger, publicPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublic(r.URL.Path, publicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := validator.ValidateJWT(parts[1])
			if err != nil {
				log.WithError(err).Warn("Token validation failed")
				writeUnauthorized(w, "invalid token")
				return
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = context.WithValue(ctx, logger.UserIDKey, claims.Subject)
			monitoring.AnnotateRequest(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGroup rejects authenticated requests whose claims lack group.
// Requests Middleware let through without claims pass untouched.
func RequireGroup(group types.ProviderGroup, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok && !claims.HasGroup(group) {
				log.WithComponent("auth").WithField("user_id", claims.Subject).
					WithField("group", group).Warn("Provider is not in the required group")
				writeError(w, http.StatusForbidden, types.ErrCodeForbidden, "provider is not permitted to use this service")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *types.UserClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by Middleware
func ClaimsFromContext(ctx context.Context) (*types.UserClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*types.UserClaims)
	return claims, ok && claims != nil
}

// ProviderID returns the authenticated provider identity, or "" when the
// request is unauthenticated.
func ProviderID(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}

func isPublic(path string, publicPaths []string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, types.ErrCodeUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
