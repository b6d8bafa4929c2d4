package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hugin-munin/hm-api/internal/shared"
	"github.com/hugin-munin/hm-api/internal/token"
)

// RoleChecker is the slice of the role service the middleware needs to decide
// whether an identity is an administrator.
type RoleChecker interface {
	RoleName(ctx context.Context, roleID int64) (string, error)
	HasPermissionNamed(ctx context.Context, roleID int64, name string) (bool, error)
}

// Middleware authenticates requests against the policy table and enforces the
// admin predicate where a route group asks for it.
type Middleware struct {
	logger          *slog.Logger
	tokens          *token.Service
	roles           RoleChecker
	policies        *PolicyTable
	adminRole       string
	adminPermission string
}

// NewMiddleware constructs the authorization middleware.
func NewMiddleware(logger *slog.Logger, tokens *token.Service, roles RoleChecker, policies *PolicyTable, adminRole, adminPermission string) *Middleware {
	return &Middleware{
		logger:          logger,
		tokens:          tokens,
		roles:           roles,
		policies:        policies,
		adminRole:       adminRole,
		adminPermission: adminPermission,
	}
}

// Authorize is the router-wide middleware. Public routes pass untouched;
// everything else needs a valid bearer token, and admin routes additionally
// need the admin predicate. The resolved identity is attached to the request
// context for downstream handlers.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := m.policies.Resolve(r.Method, r.URL.Path)
		if policy == Public {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := BearerToken(r)
		if !ok {
			shared.WriteError(w, m.logger, shared.Authentication("Token de autenticación requerido"))
			return
		}
		identity, err := m.tokens.Validate(r.Context(), raw)
		if err != nil {
			shared.WriteError(w, m.logger, authError(err))
			return
		}

		ctx := shared.ContextWithIdentity(r.Context(), identity)
		if policy == RequiresAdmin {
			if err := m.checkAdmin(ctx, identity); err != nil {
				shared.WriteError(w, m.logger, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a route group mounted below an authenticated surface. It
// expects Authorize to have run already and the identity to be in context.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := shared.IdentityFromContext(r.Context())
		if identity == nil {
			shared.WriteError(w, m.logger, shared.Authentication("Token de autenticación requerido"))
			return
		}
		if err := m.checkAdmin(r.Context(), identity); err != nil {
			shared.WriteError(w, m.logger, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkAdmin grants admin to identities whose role carries the admin name or
// holds the admin permission.
func (m *Middleware) checkAdmin(ctx context.Context, id *shared.Identity) error {
	name, err := m.roles.RoleName(ctx, id.RoleID)
	if err == nil && strings.EqualFold(name, m.adminRole) {
		return nil
	}
	if err != nil && shared.KindOf(err) != shared.KindNotFound {
		return err
	}
	granted, err := m.roles.HasPermissionNamed(ctx, id.RoleID, m.adminPermission)
	if err != nil {
		return err
	}
	if !granted {
		return shared.Authorization("Se requieren privilegios de administrador")
	}
	return nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// authError maps token sentinel errors to authentication errors with distinct
// messages, so clients can tell an expired session from a revoked one.
func authError(err error) error {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return shared.Authentication("Token expirado")
	case errors.Is(err, token.ErrTokenRevoked):
		return shared.Authentication("Token revocado")
	case errors.Is(err, token.ErrTokenMalformed):
		return shared.Authentication("Token inválido")
	default:
		return err
	}
}
