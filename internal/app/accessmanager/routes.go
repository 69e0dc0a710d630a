// Package accessmanager предоставляет маршруты для основного приложения.
package accessmanager

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/auth/login"
	bindingactivate "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/binding/activate"
	bindingbind "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/binding/bind"
	bindingtrial "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/binding/trial"
	bindingunbind "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/binding/unbind"
	"github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/health"
	paymentcreate "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/payment/create"
	paymentrefund "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/payment/refund"
	servercreate "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/server/create"
	serverlist "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/server/list"
	serverremove "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/server/remove"
	trafficread "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/traffic/read"
	userblock "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/user/block"
	userread "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/user/read"
	userregister "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/user/register"
	userremove "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/user/remove"
	userunblock "github.com/magabrotheeeer/vpn-access-manager/internal/http/handlers/user/unblock"
	"github.com/magabrotheeeer/vpn-access-manager/internal/http/middlewarectx"
	assignmentservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/assignment"
	authservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/auth"
	entitlementservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/entitlement"
	paymentservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/payment"
	serverservice "github.com/magabrotheeeer/vpn-access-manager/internal/services/server"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger,
	authService *authservice.Service,
	entitlementService *entitlementservice.Service,
	assignmentManager *assignmentservice.Manager,
	paymentService *paymentservice.Service,
	serverService *serverservice.Service,
	trialDays int) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Post("/auth/login", login.New(logger, authService).ServeHTTP)
		r.Get("/health", health.New(logger).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(authService, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))

			r.Post("/users", userregister.New(logger, entitlementService).ServeHTTP)
			r.Get("/users/{uid}", userread.New(logger, entitlementService).ServeHTTP)
			r.Post("/users/{uid}/block", userblock.New(logger, entitlementService).ServeHTTP)
			r.Post("/users/{uid}/unblock", userunblock.New(logger, entitlementService).ServeHTTP)
			r.Delete("/users/{uid}", userremove.New(logger, assignmentManager).ServeHTTP)
			r.Get("/users/{uid}/traffic", trafficread.New(logger, assignmentManager).ServeHTTP)

			r.Post("/servers", servercreate.New(logger, serverService).ServeHTTP)
			r.Get("/servers", serverlist.New(logger, serverService).ServeHTTP)
			r.Delete("/servers/{id}", serverremove.New(logger, serverService).ServeHTTP)

			r.Post("/bindings", bindingbind.New(logger, assignmentManager).ServeHTTP)
			r.Post("/bindings/activate", bindingactivate.New(logger, assignmentManager).ServeHTTP)
			r.Post("/bindings/trial", bindingtrial.New(logger, assignmentManager, trialDays).ServeHTTP)
			r.Delete("/bindings", bindingunbind.New(logger, assignmentManager).ServeHTTP)

			r.Post("/payments", paymentcreate.New(logger, paymentService).ServeHTTP)
			r.Delete("/payments/{id}", paymentrefund.New(logger, paymentService).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
