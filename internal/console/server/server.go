package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/console/handler"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256). Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	authHandler   *handler.AuthHandler      // /auth/token
	policyHandler *handler.PolicyHandler    // /v1/policies
	dashHandler   *handler.DashboardHandler // /v1/dashboard
	auditHandler  *handler.AuditHandler     // /v1/audit
}

// NewConsoleServer собирает роутер консоли со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	policyH *handler.PolicyHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		authHandler:   authH,
		policyHandler: policyH,
		dashHandler:   dashH,
		auditHandler:  auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. Защищенный периметр (RS256 токен + скоупы) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.With(auth.RequireScope(domain.ScopeAuditRead)).Get("/v1/dashboard/stats", s.dashHandler.GetStats)
		r.With(auth.RequireScope(domain.ScopeAuditRead)).Get("/v1/audit", s.auditHandler.GetLogs)

		r.Route("/v1/policies", func(r chi.Router) {
			r.With(auth.RequireScope(domain.ScopePoliciesRead)).Get("/", s.policyHandler.List)
			r.With(auth.RequireScope(domain.ScopePoliciesWrite)).Post("/", s.policyHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.With(auth.RequireScope(domain.ScopePoliciesRead)).Get("/", s.policyHandler.Get)
				r.With(auth.RequireScope(domain.ScopePoliciesWrite)).Put("/", s.policyHandler.Update)
				r.With(auth.RequireScope(domain.ScopePoliciesWrite)).Delete("/", s.policyHandler.Delete)
			})
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
