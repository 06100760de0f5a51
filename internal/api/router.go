package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/prettydl/prettydl/internal/api/handler"
	"github.com/prettydl/prettydl/internal/api/middleware"
	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/download"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/metrics"
	"github.com/prettydl/prettydl/internal/passkey"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/user"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	AuthService  *auth.Service
	Users        *user.Directory
	Quotas       *quota.Engine
	Invites      *invite.Service
	Passkeys     *passkey.Service
	Downloads    *download.Service
	Events       handler.EventLister
	Settings     settings.Source
	Metrics      *metrics.Metrics
	HealthChecks map[string]handler.Pinger
	Version      string
	OpenAPISpec  []byte
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	healthHandler := handler.NewHealthHandler(deps.HealthChecks, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	authHandler := handler.NewAuthHandler(deps.AuthService)
	userHandler := handler.NewUserHandler(deps.AuthService, deps.Users, deps.Quotas, deps.Settings)
	inviteHandler := handler.NewInviteHandler(deps.Invites, deps.Settings)
	passkeyHandler := handler.NewPasskeyHandler(deps.Passkeys)
	downloadHandler := handler.NewDownloadHandler(deps.Downloads)
	logsHandler := handler.NewLogsHandler(deps.Events)

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/invites/{code}", inviteHandler.Check)
		r.Post("/passkeys/authenticate/options", passkeyHandler.AuthOptions)
		r.Get("/passkeys/authenticate/passwordless/options", passkeyHandler.PasswordlessOptions)
		r.Post("/passkeys/authenticate/verify", passkeyHandler.AuthVerify)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(deps.AuthService))

			r.Get("/auth/status", authHandler.Status)
			r.Get("/users/self/quotas", userHandler.SelfQuotas)
			r.Post("/users/self/change-password", userHandler.SelfChangePassword)
			r.Post("/download", downloadHandler.Create)

			r.Get("/passkeys", passkeyHandler.List)
			r.Post("/passkeys/register/options", passkeyHandler.RegisterOptions)
			r.Post("/passkeys/register/verify", passkeyHandler.RegisterVerify)
			r.Delete("/passkeys/{credentialID}", passkeyHandler.Delete)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Delete("/users/{username}", userHandler.Delete)
				r.Post("/users/{username}/toggle-admin", userHandler.ToggleAdmin)
				r.Post("/users/{username}/suspend", userHandler.Suspend)
				r.Post("/users/{username}/unsuspend", userHandler.Unsuspend)
				r.Post("/users/{username}/approve", userHandler.Approve)
				r.Post("/users/{username}/reject", userHandler.Reject)
				r.Post("/users/{username}/change-password", userHandler.ChangePassword)
				r.Get("/users/{username}/quotas", userHandler.GetQuotas)
				r.Post("/users/{username}/quotas", userHandler.SetQuotas)

				r.Get("/invites", inviteHandler.List)
				r.Post("/invites", inviteHandler.Create)
				r.Delete("/invites/{code}", inviteHandler.Delete)

				r.Get("/logs", logsHandler.List)
			})
		})
	})

	return r
}
