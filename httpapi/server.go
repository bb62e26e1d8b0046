package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"dealflow/audit"
	"dealflow/auth"
	"dealflow/cache"
	"dealflow/deal"
	"dealflow/template"
	"dealflow/token"
)

// Config holds server configuration.
type Config struct {
	Port     int
	BaseURL  string
	AllowAll bool // allow all CORS origins (dev mode)
}

// DealService is the slice of the lifecycle engine the handlers consume.
type DealService interface {
	Create(ctx context.Context, creatorID string, p deal.CreateParams) (deal.Deal, token.AccessToken, error)
	BeginSeal(ctx context.Context, p deal.SealParams) (deal.Deal, error)
	Void(ctx context.Context, dealID, callerID string) (deal.Deal, error)
	ReissueToken(ctx context.Context, dealID, callerID string) (token.AccessToken, error)
	GetByID(ctx context.Context, dealID string) (deal.Deal, error)
	GetByPublicID(ctx context.Context, publicID string) (deal.Deal, error)
	GetStatusView(ctx context.Context, publicID, secret, callerID string) (deal.StatusView, error)
	ListByCreator(ctx context.Context, creatorID string, page, pageSize int) ([]deal.Deal, int, error)
}

// TokenService is the authority surface exposed to page loads.
type TokenService interface {
	Validate(ctx context.Context, dealID, secret, publicID string) (token.Status, error)
	LatestStatus(ctx context.Context, dealID string) (token.AccessToken, token.Status, error)
}

// AuditService reads and appends ledger entries.
type AuditService interface {
	AppendStandalone(ctx context.Context, e audit.Entry) error
	List(ctx context.Context, dealID string, authz audit.Authorization) ([]audit.Entry, error)
}

// TemplateService lists the deal templates creators can start from.
type TemplateService interface {
	List(ctx context.Context, limit int) ([]template.Template, error)
	GetByRef(ctx context.Context, ref string) (template.Template, error)
}

// AuthService handles accounts and sessions.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
}

// Server exposes the deal engine over HTTP.
type Server struct {
	cfg          Config
	authService  AuthService
	dealService  DealService
	tokenService TokenService
	auditService AuditService
	templates    TemplateService
	views        *cache.DealViews
	router       chi.Router
	httpServer   *http.Server
}

func New(cfg Config, authSvc AuthService, deals DealService, tokens TokenService, ledger AuditService, views *cache.DealViews) *Server {
	s := &Server{
		cfg:          cfg,
		authService:  authSvc,
		dealService:  deals,
		tokenService: tokens,
		auditService: ledger,
		views:        views,
	}
	s.router = s.buildRouter()
	return s
}

// WithTemplates attaches the template catalog. Call before Start.
func (s *Server) WithTemplates(t TemplateService) *Server {
	s.templates = t
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Get("/api/templates", s.handleListTemplates)
	r.Get("/api/templates/{ref}", s.handleGetTemplate)

	// Creator surface: authorization-sensitive, keyed by internal deal id.
	r.Route("/api/deals", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/", s.handleCreateDeal)
		r.Get("/", s.handleListDeals)
		r.Post("/{dealID}/void", s.handleVoidDeal)
		r.Get("/{dealID}/token", s.handleGetToken)
		r.Post("/{dealID}/token", s.handleReissueToken)
		r.Get("/{dealID}/audit", s.handleCreatorAuditLogs)
	})

	// Recipient surface: anonymous, keyed by shareable public id. Bearer
	// secrets ride in the t query parameter or the request body.
	r.Route("/api/p/{publicID}", func(r chi.Router) {
		r.Get("/", s.handleGetDeal)
		r.Get("/status", s.handleStatusView)
		r.Post("/validate-token", s.handleValidateToken)
		r.Post("/confirm", s.handleConfirmDeal)
		r.Post("/events", s.handleLogEvent)
		r.Get("/audit", s.handleRecipientAuditLogs)
	})

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("dealflow api listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
