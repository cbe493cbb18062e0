package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/genstudio/internal/auth"
	"github.com/digkill/genstudio/internal/metrics"
	"github.com/digkill/genstudio/internal/service"
)

// Deps are the services the HTTP surface routes to. Bot may be nil when Telegram is disabled.
type Deps struct {
	Accounts    *service.AccountService
	Ledger      *service.LedgerService
	Usage       *service.UsageService
	Analytics   *service.AnalyticsService
	Generations *service.GenerationService
	Packages    *service.PackageService
	Promos      *service.PromoService
	Payments    *service.PaymentService
	Resolver    auth.Resolver
	Metrics     *metrics.Metrics
	Bot         service.BotSender

	AdminUsername   string
	AdminPassword   string
	PurchaseHintURL string
}

type Server struct {
	Deps
	addr            string
	purchaseHintURL string
	log             *slog.Logger
	router          *chi.Mux
}

func NewServer(addr string, deps Deps, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		Deps:            deps,
		addr:            addr,
		purchaseHintURL: deps.PurchaseHintURL,
		log:             log,
		router:          r,
	}
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.Metrics.Handler())
	r.Post("/webhook/yookassa", s.handleYooKassaWebhook)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.identityMiddleware)
		api.Route("/credits", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/history", s.handleHistory)
			r.Post("/record-usage", s.handleRecordUsage)
			r.Get("/analytics", s.handleUserAnalytics)
			r.Get("/packages", s.handleListActivePackages)
			r.Post("/checkout", s.handleCheckout)
			r.Post("/redeem", s.handleRedeem)
		})
		api.Post("/generate/{type}", s.handleGenerate)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.basicAuthMiddleware())
		admin.Post("/broadcast", s.handleBroadcast)
		admin.Get("/analytics", s.handleAdminAnalytics)
		admin.Get("/generations/{generationID}", s.handleGetGeneration)
		admin.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Post("/grant", s.handleGrant)
			r.Post("/refund", s.handleRefund)
			r.Put("/plan", s.handleSetPlan)
		})
		admin.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Post("/", s.handleCreatePackage)
			r.Put("/{id}", s.handleUpdatePackage)
			r.Delete("/{id}", s.handleDeletePackage)
		})
		admin.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
		// Generation requests wait on the worker, so writes get a long deadline.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.HTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// identityMiddleware resolves the caller and makes sure a ledger account exists for them.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Resolver.Resolve(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, _, err := s.Accounts.Ensure(r.Context(), id.UserID, id.Email); err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !s.adminCredentialsMatch(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="genstudio"`)
				s.writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminCredentialsMatch compares both fields in constant time. An empty configured password
// matches nothing.
func (s *Server) adminCredentialsMatch(user, pass string) bool {
	if s.AdminPassword == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.AdminUsername))
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.AdminPassword))
	return userOK&passOK == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// userID is only called behind identityMiddleware.
func userID(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.UserID
}
