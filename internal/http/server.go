package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	applog "saldo/internal/log"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/observability"
	"saldo/internal/services"
)

const (
	requestTimeout  = 30 * time.Second
	streamHeartbeat = 15 * time.Second
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups everything the handlers call into.
type Deps struct {
	Groups   *services.GroupService
	Expenses *services.ExpenseService
	Users    *services.UserService
	Balances *services.BalanceService
	DB       Pinger
	Metrics  *observability.Metrics
	Logger   *applog.Logger

	// RateLimitPerMinute applies per client IP to the API routes.
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	groups    *services.GroupService
	expenses  *services.ExpenseService
	users     *services.UserService
	balances  *services.BalanceService
	db        Pinger
	validate  *validator.Validate
	heartbeat time.Duration
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// No write timeout is set because balance streams stay open; the other API
// routes are bounded by a per-request timeout instead.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		groups:    deps.Groups,
		expenses:  deps.Expenses,
		users:     deps.Users,
		balances:  deps.Balances,
		db:        deps.DB,
		validate:  newValidator(),
		heartbeat: streamHeartbeat,
		started:   time.Now(),
	}
	s.Handler = s.routes(deps)
	return s
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) routes(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = applog.FromContext(context.Background())
	}
	limit := deps.RateLimitPerMinute
	if limit <= 0 {
		limit = 120
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(applog.Middleware(logger.WithComponent(applog.ComponentHTTP)))
	r.Use(trace.Middleware)
	r.Use(deps.Metrics.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute))
		r.Use(security.NoStore)

		r.Get("/balances/stream", s.handleBalanceStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Put("/users/{userID}", s.handleUpsertUser)

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", s.handleCreateGroup)
				r.Get("/", s.handleListGroups)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", s.handleGetGroup)
					r.Put("/", s.handleUpdateGroup)
					r.Delete("/", s.handleDeleteGroup)
					r.Get("/expenses", s.handleListExpenses)
					r.Post("/expenses", s.handleCreateExpense)
					r.Delete("/expenses/{expenseID}", s.handleDeleteExpense)
				})
			})

			r.Get("/balances", s.handleBalances)
			r.Get("/balances/{userID}", s.handleBalanceOf)
		})
	})
	return r
}

// Shutdown stops accepting requests and waits for active ones. Open streams
// end when their request context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
