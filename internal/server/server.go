// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/blueprintstore/internal/accesstoken"
	"github.com/mbd888/blueprintstore/internal/artifacts"
	"github.com/mbd888/blueprintstore/internal/auth"
	"github.com/mbd888/blueprintstore/internal/catalog"
	"github.com/mbd888/blueprintstore/internal/circuitbreaker"
	"github.com/mbd888/blueprintstore/internal/config"
	"github.com/mbd888/blueprintstore/internal/download"
	"github.com/mbd888/blueprintstore/internal/events"
	"github.com/mbd888/blueprintstore/internal/health"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/metrics"
	"github.com/mbd888/blueprintstore/internal/payments"
	"github.com/mbd888/blueprintstore/internal/purchases"
	"github.com/mbd888/blueprintstore/internal/ratelimit"
	"github.com/mbd888/blueprintstore/internal/reconciliation"
	"github.com/mbd888/blueprintstore/internal/relay"
	"github.com/mbd888/blueprintstore/internal/scheduler"
	"github.com/mbd888/blueprintstore/internal/security"
	"github.com/mbd888/blueprintstore/internal/traces"
	"github.com/mbd888/blueprintstore/internal/validation"
	"github.com/mbd888/blueprintstore/internal/webhooks"
	"github.com/redis/go-redis/v9"
)

// ledgerPruneInterval is how often the Postgres webhook ledger drops
// expired event ids.
const ledgerPruneInterval = time.Hour

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string

	catalog     *catalog.Service
	artifacts   artifacts.Store
	processor   payments.Processor
	payments    *payments.Manager
	issuer      *accesstoken.Issuer
	purchases   purchases.Store
	publisher   events.Publisher
	ledger      webhooks.Ledger
	reconciler  *reconciliation.Service
	jobs        *scheduler.Scheduler
	relay       *relay.Relay
	authMgr     *auth.Manager
	health      *health.Registry
	rateLimiter *ratelimit.Limiter

	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil unless REDIS_URL is set
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithProcessor replaces the Stripe processor (for testing)
func WithProcessor(p payments.Processor) Option {
	return func(s *Server) {
		s.processor = p
	}
}

// WithArtifactStore replaces the configured artifact storage (for testing)
func WithArtifactStore(store artifacts.Store) Option {
	return func(s *Server) {
		s.artifacts = store
	}
}

// WithPublisher replaces the purchase event publisher (for testing)
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
		health:  health.NewRegistry(2 * time.Second),
	}

	// Apply options first (may set processor/logger/storage)
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = scheduler.New(s.logger)

	// Context for initialization
	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		catalogStore  catalog.Store
		paymentsStore payments.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.health.Register("database", health.Database(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		catalogStore = catalog.NewPostgresStore(db)
		paymentsStore = payments.NewPostgresStore(db)
		s.purchases = purchases.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		catalogStore = catalog.NewMemoryStore()
		paymentsStore = payments.NewMemoryStore()
		s.purchases = purchases.NewMemoryStore()
	}

	seeded, err := catalog.SeedStore(ctx, catalogStore, catalog.Seed(time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("failed to seed catalog: %w", err)
	}
	if seeded > 0 {
		s.logger.Info("catalog seeded", "blueprints", seeded)
	}

	// Artifact storage
	if s.artifacts == nil {
		if cfg.S3Enabled() {
			store, err := artifacts.NewS3Store(ctx, artifacts.S3Config{
				Endpoint:       cfg.S3Endpoint,
				Region:         cfg.S3Region,
				Bucket:         cfg.S3Bucket,
				AccessKey:      cfg.S3AccessKey,
				SecretKey:      cfg.S3SecretKey,
				ForcePathStyle: cfg.S3ForcePathStyle,
			})
			if err != nil {
				return nil, err
			}
			s.artifacts = store
			s.logger.Info("artifact storage enabled", "bucket", cfg.S3Bucket)
		} else {
			s.artifacts = artifacts.NewMemoryStore()
			s.logger.Warn("artifact storage not configured, using in-memory store")
		}
	}
	s.catalog = catalog.NewService(catalogStore, s.artifacts)

	// Redis (webhook event ledger)
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		s.health.Register("redis", health.Redis(s.redis))
	}
	switch {
	case s.redis != nil:
		s.ledger = webhooks.NewRedisLedger(s.redis)
		s.logger.Info("webhook ledger: redis")
	case s.db != nil:
		pl := webhooks.NewPostgresLedger(s.db)
		s.ledger = pl
		s.jobs.Add(scheduler.Job{
			Name:     "prune_webhook_ledger",
			Interval: ledgerPruneInterval,
			Run: func(ctx context.Context) error {
				n, err := pl.Prune(ctx)
				if n > 0 {
					logging.L(ctx).Info("webhook ledger pruned", "events", n)
				}
				return err
			},
		})
		s.logger.Info("webhook ledger: postgres")
	default:
		s.ledger = webhooks.NewMemoryLedger()
	}

	// Access tokens
	tokenSecret := cfg.AccessTokenSecret
	if tokenSecret == "" {
		tokenSecret = ephemeralSecret()
		s.logger.Warn("ACCESS_TOKEN_SECRET not set, tokens will not survive a restart")
	}
	s.issuer, err = accesstoken.NewIssuer(tokenSecret, cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	// Payment processor. Left nil without a key so the manager reports
	// processor_not_configured instead of calling Stripe unauthenticated.
	if s.processor == nil && cfg.StripeSecretKey != "" {
		s.processor = payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeTimeout)
		s.logger.Info("stripe enabled", "prices", len(cfg.StripePriceIDs))
	}
	if s.processor == nil {
		s.logger.Warn("STRIPE_SECRET_KEY not set, payments disabled")
	}

	s.payments = payments.NewManager(catalogStore, paymentsStore, s.processor, s.issuer, payments.Options{
		PriceIDs: cfg.StripePriceIDs,
		BaseURL:  cfg.PublicBaseURL,
	})

	// Completion side effects
	s.payments.AddListener(purchases.NewRecorder(s.purchases, circuitbreaker.New(5, 30*time.Second)))
	if s.publisher == nil {
		if len(cfg.KafkaBrokers) > 0 {
			s.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			s.logger.Info("purchase events enabled", "topic", cfg.KafkaTopic)
		} else {
			s.publisher = events.NopPublisher{}
		}
	}
	s.payments.AddListener(events.NewListener(s.publisher))

	// Stale pending payments are settled from the processor's view
	if s.processor != nil {
		s.reconciler = reconciliation.NewService(paymentsStore, s.processor, s.payments).
			WithMinAge(cfg.ReconcileMinAge)
		s.jobs.Add(scheduler.Job{
			Name:     "reconcile_payments",
			Interval: cfg.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := s.reconciler.RunAll(ctx)
				return err
			},
		})
	}

	// Form relay
	s.relay, err = relay.New(relay.Options{
		APIKey:          cfg.MakeAPIKey,
		Targets:         cfg.MakeWebhookURLs,
		MaxAttempts:     cfg.RelayMaxAttempts,
		ValidateTargets: cfg.IsProduction(),
	})
	if err != nil {
		return nil, err
	}

	// Admin
	s.authMgr, err = auth.NewManager(auth.Options{
		Username:     cfg.AdminUsername,
		Password:     cfg.AdminPassword,
		PasswordHash: cfg.AdminPasswordHash,
		Secret:       cfg.JWTSecret,
		TTL:          cfg.JWTTTL,
	})
	if err != nil {
		return nil, err
	}
	if s.authMgr.Enabled() {
		s.logger.Info("admin authentication enabled", "username", cfg.AdminUsername)
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	// Security headers
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	rl.BurstSize = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	limited := validation.RequestSizeMiddleware(validation.MaxRequestSize)

	// Payments live at the root, where the storefront pages post to them
	payments.NewHandler(s.payments).RegisterRoutes(s.router.Group("", limited))

	// Processor webhooks read the raw body under their own limit
	webhooks.NewHandler(s.cfg.StripeWebhookSecret, s.payments, s.ledger).RegisterRoutes(s.router.Group(""))

	// Downloads
	verifier := accesstoken.NewVerifier(s.issuer, s.payments)
	download.NewHandler(download.NewGate(s.catalog.Store(), s.artifacts, verifier)).RegisterRoutes(s.router.Group(""))

	catalogHandler := catalog.NewHandler(s.catalog)

	api := s.router.Group("/api", limited)
	{
		api.GET("/config", s.configHandler)
		catalogHandler.RegisterRoutes(api)
		relay.NewHandler(s.relay).RegisterRoutes(api)
		auth.NewHandler(s.authMgr).RegisterRoutes(api)
	}

	// Admin routes carry artifact uploads, so they get the larger limit
	admin := s.router.Group("/api/admin",
		validation.RequestSizeMiddleware(catalog.MaxArtifactSize+(1<<16)),
		auth.RequireAdmin(s.authMgr),
	)
	{
		catalogHandler.RegisterAdminRoutes(admin)
		admin.POST("/upload-blueprint/:id", catalogHandler.UploadArtifact)
		purchases.NewHandler(s.purchases).RegisterAdminRoutes(admin)
		reconciliation.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the response for /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Payments  bool            `json:"payments"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Payments:  s.processor != nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// configHandler exposes the public Stripe settings the storefront needs.
func (s *Server) configHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stripePublishableKey": s.cfg.StripePublishableKey,
		"prices":               s.payments.PriceIDs(),
		"paymentsEnabled":      s.processor != nil,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	s.jobs.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.jobs.Stop()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Error("event publisher close error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ephemeralSecret returns a random per-process signing secret.
func ephemeralSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(b)
}
