package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hugin-munin/hm-api/internal/auth"
	"github.com/hugin-munin/hm-api/internal/rbac"
	"github.com/hugin-munin/hm-api/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthMiddleware *auth.Middleware
	AuthHandler    *auth.Handler
	RBACHandler    *rbac.Handler
	UsersHandler   *users.Handler
}

// NewRouter constructs the chi.Router with Hugin Munin defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.AuthMiddleware.Authorize)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/permisos", params.RBACHandler.MountPermissionRoutes)
	r.Route("/roles", params.RBACHandler.MountRoleRoutes)
	r.Route("/usuarios", params.UsersHandler.MountRoutes)

	return r
}
