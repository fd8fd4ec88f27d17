package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/metrics"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/tools"
	"github.com/mmdatafocus/household_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

// RateLimiter is a fixed-window limiter backed by Redis.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

// toolServer is swapped in once the store is connected.
var toolServer atomic.Pointer[tools.Registry]

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	engineCfg, err := config.LoadEngineConfig()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "config"}).Fatal(err.Error())
	}
	reg := metrics.NewRegistry()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the store is ready, we return 503 for tool endpoints.
	r := gin.New()
	r.Use(tools.CorrelationMiddleware())
	r.Use(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			c.Next()
			return
		}
		if toolServer.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if config.MetricsEndpointEnabled() {
		r.GET("/metrics", gin.WrapH(reg.Handler()))
	}

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", tools.HeaderCorrelationId, tools.HeaderActor)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", tools.HeaderCorrelationId)
	r.Use(cors.New(corsConfig))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		r.Use(NewRateLimiter(config.GetRedisDB, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	r.GET("/tools", func(c *gin.Context) { toolServer.Load().HandleList(c) })
	r.POST("/tools/:name", func(c *gin.Context) { toolServer.Load().HandleCall(c) })
	r.GET("/reports/spending", func(c *gin.Context) { toolServer.Load().HandleSpendingReport(c) })
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run checks startup over TCP).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	store, db, err := connectStore(logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
	}
	if db != nil {
		sqlDB, _ := db.DB()
		defer func() {
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		}()
	}
	config.ConnectRedisWithRetry(sigCtx)

	opts := []procurement.Option{
		procurement.WithLogger(logger),
		procurement.WithRecorder(metrics.EngineRecorder{R: reg}),
		procurement.WithEvents(config.EventOutboxEnabled()),
	}
	if lock := config.GetRedisLock(); lock != nil {
		opts = append(opts, procurement.WithLocker(lock))
	}
	engine := procurement.NewEngine(store, engineCfg, opts...)
	toolServer.Store(tools.NewRegistry(engine, logger, reg))

	// Outbox dispatcher publishes AFTER commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	if config.EventOutboxEnabled() {
		if db == nil {
			logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("ENABLE_EVENT_OUTBOX needs a SQL store; events stay in memory")
		} else {
			dispatcher := workflow.NewOutboxDispatcher(db, logger, workflow.PubSubPublisher{})
			dispatcher.Recorder = reg
			go dispatcher.Run(dispatcherCtx)
		}
	}

	logger.WithFields(logrus.Fields{
		"info":   "Connection Established",
		"driver": config.StoreDriver(),
	}).Info("tool server listening on http://localhost:", port, "/tools")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	_ = config.CloseRedis()
	_ = config.ClosePubSub()
}

// connectStore opens the configured store and migrates it unless SKIP_MIGRATIONS is set.
func connectStore(logger *logrus.Logger) (models.Store, *gorm.DB, error) {
	store, db, err := models.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE_DRIVER=memory; data is lost on restart")
		return store, nil, nil
	}
	// AutoMigrate can run DDL that blocks tables; run it as a separate job when SKIP_MIGRATIONS=true.
	if config.SkipMigrations() {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	} else if err := models.MigrateTable(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return store, db, nil
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, tools.Result{Error: &tools.ErrorInfo{Code: "not_found", Message: "route not found"}})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// NewRateLimiter reads the client on every request; redis connects after the server starts.
func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed Redis window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "household:ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// fail open when redis is down
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		if err := client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			_ = c.Error(err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
