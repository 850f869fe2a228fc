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

	"github.com/mbd888/tradegate/internal/advisor"
	"github.com/mbd888/tradegate/internal/config"
	"github.com/mbd888/tradegate/internal/fraud"
	"github.com/mbd888/tradegate/internal/health"
	"github.com/mbd888/tradegate/internal/logging"
	"github.com/mbd888/tradegate/internal/memory"
	"github.com/mbd888/tradegate/internal/metrics"
	"github.com/mbd888/tradegate/internal/oracle"
	"github.com/mbd888/tradegate/internal/pipeline"
	"github.com/mbd888/tradegate/internal/ratelimit"
	"github.com/mbd888/tradegate/internal/realtime"
	"github.com/mbd888/tradegate/internal/rules"
	"github.com/mbd888/tradegate/internal/security"
	"github.com/mbd888/tradegate/internal/validation"
)

// MaxBatchSize bounds one batch assessment request.
const MaxBatchSize = 100

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the validation pipeline's dependencies.
type Server struct {
	cfg          *config.Config
	validator    *pipeline.Validator
	store        memory.Store
	reader       *oracle.ERC20Reader // nil when a checker was injected
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// test injection
	checker pipeline.BalanceChecker

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

// WithBalanceChecker injects a balance checker instead of dialing the
// ledger RPC (for testing).
func WithBalanceChecker(c pipeline.BalanceChecker) Option {
	return func(s *Server) {
		s.checker = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Learning store (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := memory.NewPostgresStore(db, cfg.InitialRiskThreshold)
		if err := pgStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate learning store: %w", err)
		}
		s.store = pgStore
		s.logger.Info("using PostgreSQL learning store", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.store = memory.NewMemoryStore(cfg.InitialRiskThreshold)
		s.logger.Info("using in-memory learning store (data will not persist)")
	}

	// Balance oracle over the ledger RPC, unless a checker was injected
	checker := s.checker
	if checker == nil {
		reader, err := oracle.NewERC20Reader(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ledger RPC: %w", err)
		}
		s.reader = reader
		checker = oracle.New(reader, cfg.CashTokenContract, cfg.SecTokenContract).
			WithTimeout(cfg.OracleTimeout).
			WithMaxAttempts(cfg.OracleMaxAttempts)
		s.logger.Info("balance oracle connected", "rpc", cfg.RPCURL)

		s.checks.Register("ledger", func(ctx context.Context) health.Status {
			if _, err := reader.BlockNumber(ctx); err != nil {
				return health.Status{Name: "ledger", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "ledger", Healthy: true}
		})
	}

	engine := rules.NewEngine(cfg.Blacklist)
	s.logger.Info("compliance engine loaded", "blacklisted_parties", engine.BlacklistSize())

	s.validator = pipeline.New(checker, engine, s.store, cfg.InitialRiskThreshold).
		WithContextStage(cfg.ContextStageEnabled).
		WithLearning(cfg.LearningEnabled)

	if s.reader != nil {
		s.validator.WithLedgerInfo(s.reader, cfg.CashTokenContract, cfg.SecTokenContract)
	}

	// Fraud classifier from the model artifact; a missing or invalid
	// artifact disables ML rather than failing startup.
	if cfg.MLEnabled {
		artifact, err := fraud.LoadArtifact(cfg.ModelPath)
		if err != nil {
			s.logger.Warn("fraud model unavailable, ML detection disabled",
				"path", cfg.ModelPath, "error", err)
		} else if classifier, err := fraud.NewClassifier(artifact); err != nil {
			s.logger.Warn("fraud model rejected, ML detection disabled", "error", err)
		} else {
			s.validator.WithClassifier(fraud.NewExtractor(), classifier)
			s.logger.Info("ML fraud detection enabled",
				"model", artifact.Metadata.ModelType,
				"threshold", classifier.Threshold())
		}
	}

	// Advisory reasoner. The URL is a server-side request target, so outside
	// development it must pass the SSRF guard before we ever dial it.
	if cfg.AdvisorEnabled && cfg.AdvisorURL != "" {
		if err := s.checkAdvisorURL(cfg.AdvisorURL); err != nil {
			s.logger.Warn("advisor URL rejected, advisory reasoner disabled",
				"url", cfg.AdvisorURL, "error", err)
		} else {
			s.validator.WithReasoner(advisor.NewHTTPReasoner(cfg.AdvisorURL, cfg.AdvisorTimeout))
			s.logger.Info("advisory reasoner enabled", "url", cfg.AdvisorURL)
		}
	}

	// Realtime hub for verdict streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// checkAdvisorURL screens the advisory endpoint against internal address
// space. Development setups run the advisor on loopback, so the guard only
// applies outside development.
func (s *Server) checkAdvisorURL(rawURL string) error {
	if s.cfg.IsDevelopment() {
		return nil
	}
	return security.ValidateEndpointURL(rawURL)
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (middle-office dashboards run on separate origins)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

	// WebSocket for real-time verdict streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/api/v1")

	v1.POST("/trades/assess", s.assessHandler)
	v1.POST("/trades/assess/batch", s.assessBatchHandler)

	v1.GET("/memory", s.memoryHandler)
	v1.GET("/stats", s.statsHandler)

	// Operator-only: clears learned state
	v1.POST("/memory/reset", s.requireAdmin(), s.resetHandler)
}

// requireAdmin gates destructive operator routes behind the admin secret.
// In development with no secret configured the gate is open.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsDevelopment() {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin operations require ADMIN_SECRET to be configured",
			})
			return
		}
		if c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Export DB pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

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

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.reader != nil {
		s.reader.Close()
		s.logger.Info("ledger connection closed")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
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
