package middleware

import (
	"context"
	"net/http"
	"strings"

	"ledger-backend/internal/auth"
	"ledger-backend/internal/models"
	"ledger-backend/pkg/utils"
)

type contextKey string

const ActorKey contextKey = "actor"

type AuthMiddleware struct {
	jwtManager *auth.JWTManager
}

func NewAuthMiddleware(jwtManager *auth.JWTManager) *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwtManager,
	}
}

func (m *AuthMiddleware) actorFromRequest(r *http.Request) (models.Actor, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return models.Actor{}, "Authorization header required"
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return models.Actor{}, "Invalid authorization format"
	}

	claims, err := m.jwtManager.ValidateToken(parts[1])
	if err != nil {
		return models.Actor{}, "Invalid or expired token"
	}
	return claims.Actor(), ""
}

// Authenticate is a middleware that validates JWT tokens
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, problem := m.actorFromRequest(r)
		if problem != "" {
			utils.RespondError(w, http.StatusUnauthorized, problem, "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole is a middleware that ensures the actor has one of the allowed roles
func (m *AuthMiddleware) RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, problem := m.actorFromRequest(r)
			if problem != "" {
				utils.RespondError(w, http.StatusUnauthorized, problem, "UNAUTHORIZED")
				return
			}

			hasRole := false
			for _, role := range allowedRoles {
				if actor.Role == role {
					hasRole = true
					break
				}
			}
			if !hasRole {
				utils.RespondError(w, http.StatusForbidden, "Forbidden: Insufficient permissions", "FORBIDDEN")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor stores the authenticated actor on ctx
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext extracts the authenticated actor from request context
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(models.Actor)
	return actor, ok
}
