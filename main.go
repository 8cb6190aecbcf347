package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	cfg "github.com/example/staykeeper/internal/config"
	"github.com/example/staykeeper/internal/security"
)

type App struct {
	DB         DB
	Store      security.Store
	Tokens     *security.TokenManager
	Sessions   *security.SessionManager
	CSRFTokens *security.CSRFStore
	Audit      *security.AuditLogger

	AuthLimiter *security.Limiter
	APILimiter  *security.Limiter

	Validate *validator.Validate
	Log      logrus.FieldLogger

	TrustProxy     bool
	Production     bool
	AllowedOrigins []string
}

// Routes builds the HTTP handler.
func (a *App) Routes() http.Handler {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(SecurityHeaders)
	r.Use(a.Logging)
	r.Use(a.CORS)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", a.handleReady).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.RateLimit(a.APILimiter))
	api.HandleFunc("/csrf-token", a.HandleCSRFToken).Methods("GET")

	auth := api.PathPrefix("/auth").Subrouter()
	strict := a.RateLimit(a.AuthLimiter)
	auth.Handle("/register", strict(validateBody(a, a.HandleRegister))).Methods("POST")
	auth.Handle("/login", strict(validateBody(a, a.HandleLogin))).Methods("POST")
	auth.Handle("/refresh", validateBody(a, a.HandleRefresh)).Methods("POST")
	auth.HandleFunc("/validate", a.HandleTokenValidate).Methods("GET")
	auth.Handle("/introspect", validateBody(a, a.HandleTokenIntrospect)).Methods("POST")

	// Bearer-authenticated endpoints
	protected := auth.NewRoute().Subrouter()
	protected.Use(a.RequireAuth)
	protected.Use(a.CSRF)
	protected.HandleFunc("/me", a.HandleMe).Methods("GET")
	protected.Handle("/logout", validateBody(a, a.HandleLogout)).Methods("POST")
	protected.Handle("/revoke", a.RequireRole(RoleAdmin, validateBody(a, a.HandleRevokeToken))).Methods("POST")

	// CORS preflight
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := true
	if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
		ready = false
	}
	if p, ok := a.Store.(interface{ Ping() bool }); ok && !p.Ping() {
		ready = false
	}
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func newLogger(c *cfg.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func openDB(c *cfg.Config, log logrus.FieldLogger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		return NewSQLiteDB(c.SQLiteFile)
	case "postgres":
		log.Info("applying database migrations")
		if err := ApplyMigrations("./migrations", c.PostgresDSN, log); err != nil {
			log.WithError(err).Warn("migration error (continuing anyway)")
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info("connected to PostgreSQL database")
		return p, nil
	default:
		log.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	}
}

func openStore(c *cfg.Config, log logrus.FieldLogger) (security.Store, error) {
	if c.StoreBackend == "redis" {
		client, err := security.DialRedis(c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", c.RedisAddr).Info("using redis security store")
		return security.NewRedisStore(client, "staykeeper:"), nil
	}
	log.Warn("using in-memory security store; state is lost on restart and not shared between instances")
	return security.NewMemoryStore(), nil
}

func main() {
	c, err := cfg.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := newLogger(c)

	db, err := openDB(c, log)
	if err != nil {
		log.WithError(err).Fatal("database init")
	}
	store, err := openStore(c, log)
	if err != nil {
		log.WithError(err).Fatal("security store init")
	}

	tokens, err := security.NewTokenManager(c.JwtSecret, c.JwtRefreshSecret, store, security.WithTokenLogger(log))
	if err != nil {
		log.WithError(err).Fatal("token manager")
	}
	sessions := security.NewSessionManager(store, security.WithSessionLogger(log), security.WithIPBinding(c.SessionIPBinding))
	csrf := security.NewCSRFStore(store, security.WithCSRFLogger(log), security.WithSingleUse(c.CSRFSingleUse))
	audit := security.NewAuditLogger(log, security.WithWebhook(c.SecurityWebhook), security.WithEventSink(db))

	app := &App{
		DB:             db,
		Store:          store,
		Tokens:         tokens,
		Sessions:       sessions,
		CSRFTokens:     csrf,
		Audit:          audit,
		AuthLimiter:    security.NewAuthLimiter(store),
		APILimiter:     security.NewAPILimiter(store),
		Validate:       newValidator(),
		Log:            log,
		TrustProxy:     c.TrustProxy,
		Production:     c.IsProduction(),
		AllowedOrigins: c.Origins(),
	}

	sweeper := security.NewSweeper(sessions, csrf, tokens, c.CleanupInterval, log, app.AuthLimiter, app.APILimiter)
	if err := sweeper.Start(); err != nil {
		log.WithError(err).Fatal("start sweeper")
	}

	srv := &http.Server{Handler: app.Routes(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		log.WithField("port", c.Port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	sweeper.Stop()
	audit.Wait(ctx)
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	log.Info("server exited properly")
}
