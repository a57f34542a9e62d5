// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"medassoc/internal/admin"
	"medassoc/internal/auth"
	"medassoc/internal/catalog"
	"medassoc/internal/cleanup"
	"medassoc/internal/config"
	"medassoc/internal/content"
	"medassoc/internal/data"
	"medassoc/internal/email"
	"medassoc/internal/events"
	"medassoc/internal/logger"
	"medassoc/internal/membership"
	"medassoc/internal/metrics"
	"medassoc/internal/middleware"
	"medassoc/internal/portal"
	"medassoc/internal/registration"
	"medassoc/internal/security"
)

type App struct {
	addr          string
	router        *mux.Router
	connections   sync.WaitGroup
	totalRequests int64
}

// services the routes are built from
type services struct {
	catalog *catalog.Service
	content *content.Service
	tokens  *auth.TokenService
	mail    email.EmailConfig
	limiter security.Limiter
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	if tz := config.TimeZone(); tz != "Local" {
		if loc, err := time.LoadLocation(tz); err == nil {
			time.Local = loc
		}
	}

	// Step 2: Setup logging
	if err := logger.SetupLogger(config.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	config.ConfigurePaths()
	logger.LogInfo("Environment and paths loaded. Logger ready.")
	config.LogCurrentEnvironment()

	// Step 3: Auth and storage
	if err := config.LoadAuthConfig(); err != nil {
		logger.LogFatal("Failed to load auth config: %v", err)
	}
	if err := os.MkdirAll(config.DataDirectory(), 0775); err != nil {
		logger.LogFatal("Failed to create data directory: %v", err)
	}
	if err := data.InitDB(config.DatabasePath()); err != nil {
		logger.LogFatal("Failed to initialize database: %v", err)
	}

	// Step 4: Catalog and site content
	cat := catalog.NewService()
	if err := cat.Load(config.CatalogPath()); err != nil {
		logger.LogFatal("Failed to load membership catalog: %v", err)
	}
	site := content.NewService()
	if err := site.Load(config.ContentPath()); err != nil {
		logger.LogFatal("Failed to load site content: %v", err)
	}
	if _, err := content.SeedEvents(site, time.Now().UTC()); err != nil {
		logger.LogError("Failed to seed events: %v", err)
	}

	adminEmail, adminPassword := config.BootstrapAdmin()
	if _, err := admin.EnsureSuperAdmin(adminEmail, adminPassword); err != nil {
		logger.LogError("Failed to create bootstrap administrator: %v", err)
	}

	// Step 5: Background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := services{
		catalog: cat,
		content: site,
		tokens:  auth.NewTokenService(config.JWTSecret(), config.JWTTTL()),
		mail:    email.LoadEmailConfig(),
		limiter: newLimiter(ctx),
	}

	go security.CleanExpiredTokens(ctx)
	cleanup.StartCleanupRoutine(ctx, svc.mail)

	// Step 6: Run server
	app := &App{
		addr:   config.ServerAddress(),
		router: routes(svc),
	}
	app.Run()

	cancel()
	if err := data.CloseDB(); err != nil {
		logger.LogError("Failed to close database: %v", err)
	}
}

// newLimiter uses redis when REDIS_URL is set and reachable, otherwise an in-process limiter.
func newLimiter(ctx context.Context) security.Limiter {
	limit := config.RateLimitPerMinute()

	if url := config.RedisURL(); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			logger.LogError("Invalid REDIS_URL, falling back to in-memory rate limiting: %v", err)
		} else {
			client := redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = client.Ping(pingCtx).Err()
			cancel()
			if err == nil {
				logger.LogInfo("Rate limiting backed by redis at %s", opts.Addr)
				go func() {
					<-ctx.Done()
					client.Close()
				}()
				return security.NewRedisLimiter(client, "medassoc:ratelimit", limit, time.Minute)
			}
			logger.LogWarn("Redis unreachable (%v), falling back to in-memory rate limiting", err)
			client.Close()
		}
	}

	limiter := security.NewMemoryLimiter(limit, time.Minute)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()
	return limiter
}

// routes sets up all API routes
func routes(svc services) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/healthz", healthz(svc)).Methods(http.MethodGet)
	if config.MetricsEnabled() {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.API)

	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(svc.limiter, scope)(h)
	}

	registrations := registration.NewHandler(svc.catalog, svc.mail, config.PublicBaseURL(), config.CSRFRequired())
	memberships := membership.NewHandler(svc.catalog, svc.mail)
	sessions := auth.NewHandler(svc.tokens, svc.mail, config.PublicBaseURL())
	siteContent := content.NewHandler(svc.content, svc.catalog)
	listings := events.NewHandler()

	// Public
	api.HandleFunc("/csrf-token", security.CSRFTokenHandler).Methods(http.MethodGet)
	api.HandleFunc("/membership/tiers", svc.catalog.TiersHandler).Methods(http.MethodGet)
	api.HandleFunc("/membership/tiers/{id}", svc.catalog.TierHandler).Methods(http.MethodGet)
	api.Handle("/register", limited("register", registrations.Register)).Methods(http.MethodPost)
	api.Handle("/verify-email", limited("verify", registrations.VerifyEmail)).Methods(http.MethodPost)
	api.Handle("/verify-email/resend", limited("verify", registrations.ResendVerification)).Methods(http.MethodPost)
	api.Handle("/login", limited("login", sessions.Login)).Methods(http.MethodPost)
	api.Handle("/password/forgot", limited("password", sessions.ForgotPassword)).Methods(http.MethodPost)
	api.Handle("/password/reset", limited("password", sessions.ResetPassword)).Methods(http.MethodPost)
	api.HandleFunc("/membership/renewal", memberships.Lookup).Methods(http.MethodGet)
	api.Handle("/membership/renewal", limited("membership", memberships.Renew)).Methods(http.MethodPost)
	api.HandleFunc("/membership/upgrade/quote", memberships.UpgradeQuote).Methods(http.MethodGet)
	api.Handle("/membership/upgrade", limited("membership", memberships.Upgrade)).Methods(http.MethodPost)
	api.HandleFunc("/events", listings.List).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", listings.Get).Methods(http.MethodGet)
	api.HandleFunc("/news", siteContent.News).Methods(http.MethodGet)
	api.HandleFunc("/news/{id}", siteContent.NewsItem).Methods(http.MethodGet)
	api.HandleFunc("/training-programs", siteContent.TrainingPrograms).Methods(http.MethodGet)
	api.HandleFunc("/benefits", siteContent.Benefits).Methods(http.MethodGet)

	// Admin login and reset are public; everything else under /api/admin needs a staff token
	api.Handle("/admin/login", limited("login", sessions.AdminLogin)).Methods(http.MethodPost)
	api.Handle("/admin/password/reset", limited("password", sessions.AdminResetPassword)).Methods(http.MethodPost)

	admins := admin.NewHandler(svc.catalog)
	staffAuth := auth.NewStaffAuthenticator(svc.tokens)
	super := api.PathPrefix("/admin/admins").Subrouter()
	super.Use(middleware.RequireAuth(staffAuth, data.RoleSuperAdmin))
	super.HandleFunc("", admins.ListAdmins).Methods(http.MethodGet)
	super.HandleFunc("", admins.CreateAdmin).Methods(http.MethodPost)
	super.HandleFunc("/{id}", admins.DeleteAdmin).Methods(http.MethodDelete)

	staff := api.PathPrefix("/admin").Subrouter()
	staff.Use(middleware.RequireAuth(staffAuth, data.RoleAdmin, data.RoleSuperAdmin))
	staff.HandleFunc("/summary", admins.SummaryHandler).Methods(http.MethodGet)
	staff.HandleFunc("/{kind}", listings.AdminList).Methods(http.MethodGet)
	staff.HandleFunc("/{kind}", listings.AdminCreate).Methods(http.MethodPost)
	staff.HandleFunc("/{kind}/{id}", listings.AdminGet).Methods(http.MethodGet)
	staff.HandleFunc("/{kind}/{id}", listings.AdminUpdate).Methods(http.MethodPut)
	staff.HandleFunc("/{kind}/{id}", listings.AdminDelete).Methods(http.MethodDelete)
	staff.HandleFunc("/{kind}/{id}/status", listings.AdminUpdateStatus).Methods(http.MethodPatch)

	// Member portal
	members := portal.NewHandler(svc.catalog)
	p := api.PathPrefix("/portal").Subrouter()
	p.Use(middleware.RequireAuth(svc.tokens, auth.RoleMember))
	p.HandleFunc("/dashboard", members.Dashboard).Methods(http.MethodGet)
	p.HandleFunc("/cpd", members.RecordCPD).Methods(http.MethodPost)
	p.HandleFunc("/forum/threads", members.ListThreads).Methods(http.MethodGet)
	p.HandleFunc("/forum/threads", members.CreateThread).Methods(http.MethodPost)
	p.HandleFunc("/forum/threads/{id}", members.GetThread).Methods(http.MethodGet)
	p.HandleFunc("/forum/threads/{id}/replies", members.Reply).Methods(http.MethodPost)
	p.HandleFunc("/messages", members.Inbox).Methods(http.MethodGet)
	p.HandleFunc("/messages", members.Send).Methods(http.MethodPost)
	p.HandleFunc("/messages/{id}/read", members.MarkRead).Methods(http.MethodPost)

	return r
}

// healthz reports database availability plus catalog and content load state.
func healthz(svc services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := data.GetDB(); err != nil {
			middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, "database_unavailable", "Database unavailable", "")
			return
		}
		middleware.WriteAPISuccess(w, r, map[string]interface{}{
			"status":  "ok",
			"catalog": svc.catalog.GetStats(),
			"content": svc.content.GetStats(),
		})
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	logger.LogInfo("404 not found: %s", r.URL.Path)
	middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", "The requested resource was not found", "")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", "")
}

// Run starts the HTTP server and blocks until a shutdown signal is handled
func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	<-stop
	logger.LogInfo("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles the outer middleware around the router
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.router

	handler = security.AddCORSHeaders(handler)
	handler = a.trackConnections(handler)
	handler = http.TimeoutHandler(handler, 15*time.Second, `{"code":"timeout","message":"Request timed out"}`)

	return handler
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
