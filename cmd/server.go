package cmd

import (
	"context"
	"errors"
	"fetchrelay/config"
	"fetchrelay/handlers"
	"fetchrelay/middleware"
	"fetchrelay/resumable"
	"fetchrelay/services"
	"fetchrelay/storage"
	"fetchrelay/websocket"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Store is the persistence the server needs
type Store interface {
	services.JobStore
	services.SettingsStore
}

// Options overrides the components BuildServer would otherwise create from
// the configuration
type Options struct {
	Store    Store
	Fetcher  services.Fetcher
	Uploader services.Uploader
	Redis    *redis.Client
}

// Server is a fully wired fetchrelay instance
type Server struct {
	Router  *gin.Engine
	Hub     websocket.Hub
	Queue   services.JobQueue
	Manager *services.Manager
	Machine *services.StateMachine

	cfg     *config.Config
	closers []io.Closer
}

// BuildServer wires storage, the pipeline and the HTTP routes
func BuildServer(cfg *config.Config, opts Options) (*Server, error) {
	if err := os.MkdirAll(cfg.Storage.ArtifactDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	s := &Server{cfg: cfg}

	store := opts.Store
	if store == nil {
		sqlite, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, sqlite)
		store = sqlite
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		ytdlp := services.NewYtDlpFetcher(cfg.Fetcher.Binary, cfg.Storage.ArtifactDir)
		ytdlp.Timeout = cfg.Fetcher.Timeout
		ytdlp.ProbeTimeout = cfg.Fetcher.ProbeTimeout
		ytdlp.PlayerClient = cfg.Fetcher.PlayerClient
		fetcher = ytdlp
	}

	uploader := opts.Uploader
	if uploader == nil {
		client := resumable.NewClient(nil)
		client.ChunkSize = cfg.Upload.ChunkSize
		uploader = client
	}

	// Initialize services
	s.Hub = websocket.NewHub()
	cache := services.NewProgressCache(cfg.Events.ProgressCacheSize)
	s.Machine = services.NewStateMachine(store, s.Hub, cache)
	reclaimer := services.NewReclaimer(store, s.Machine, cfg.Storage.ArtifactDir, cfg.Reclaim.ThresholdBytes)
	orchestrator := services.NewOrchestrator(s.Machine, store, fetcher, uploader, reclaimer, cfg.Upload.DefaultEndpoint)
	s.Queue = services.NewJobQueue(cfg.Queue.Workers, cfg.Queue.Buffer, orchestrator)
	s.Manager = services.NewManager(store, store, s.Machine, fetcher, s.Queue, uploader, services.ManagerOptions{
		AllowedDomains:  cfg.Fetcher.AllowedDomains,
		DefaultEndpoint: cfg.Upload.DefaultEndpoint,
	})

	redisClient := opts.Redis
	if redisClient == nil && cfg.Redis.Addr != "" {
		redisClient = newRedisClient(cfg)
		if redisClient != nil {
			s.closers = append(s.closers, redisClient)
		}
	}

	// Initialize handlers
	jobHandler := handlers.NewJobHandler(s.Manager)
	realtimeHandler := handlers.NewRealtimeHandler(s.Hub)
	settingsHandler := handlers.NewSettingsHandler(s.Manager)
	remoteHandler := handlers.NewRemoteHandler(s.Manager)
	healthHandler := handlers.NewHealthHandler(cfg.Storage.ArtifactDir, reclaimer)

	// Setup router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.Logging())

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RedisClient: redisClient,
		Limit:       cfg.Redis.RateLimit,
		Window:      cfg.Redis.Window,
		KeyPrefix:   "fetchrelay:rl:",
	})

	setupRoutes(r, limiter, jobHandler, realtimeHandler, settingsHandler, remoteHandler, healthHandler)
	s.Router = r
	return s, nil
}

// newRedisClient connects to Redis for rate limiting. The server runs
// without a limiter when Redis is unreachable.
func newRedisClient(cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("WARNING: Redis at %s not available, rate limiting disabled: %v", cfg.Redis.Addr, err)
		client.Close()
		return nil
	}
	log.Printf("Rate limiting enabled via Redis at %s", cfg.Redis.Addr)
	return client
}

// Start launches the hub and workers and resumes jobs left by a previous run
func (s *Server) Start(ctx context.Context) error {
	go s.Hub.Run()
	s.Queue.Start()
	return s.Manager.RecoverInterrupted(ctx)
}

// Shutdown stops workers, disconnects clients and closes storage
func (s *Server) Shutdown() {
	s.Queue.Stop()
	s.Hub.Stop()
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
}

// StartWebServer starts the web server and blocks until SIGINT or SIGTERM
func StartWebServer(cfg *config.Config, opts Options) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s, err := BuildServer(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: s.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("fetchrelay web server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down web server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupRoutes configures all the HTTP routes
func setupRoutes(r *gin.Engine, limiter gin.HandlerFunc, jobHandler *handlers.JobHandler, realtimeHandler *handlers.RealtimeHandler, settingsHandler *handlers.SettingsHandler, remoteHandler *handlers.RemoteHandler, healthHandler *handlers.HealthHandler) {
	// Health check endpoint
	r.GET("/health", healthHandler.HealthCheck)

	// API routes group
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/status", healthHandler.APIStatus)

		// WebSocket endpoint for a user's job events
		apiGroup.GET("/ws", realtimeHandler.HandleWebSocket)

		authed := apiGroup.Group("", middleware.Identity())

		// Job Management Endpoints
		jobsGroup := authed.Group("/jobs")
		{
			jobsGroup.POST("", limiter, jobHandler.CreateJob)
			jobsGroup.GET("", jobHandler.ListJobs)
			jobsGroup.GET("/:jobId", jobHandler.GetJob)
			jobsGroup.POST("/:jobId/cancel", jobHandler.CancelJob)
			jobsGroup.POST("/:jobId/retry", limiter, jobHandler.RetryJob)
			jobsGroup.DELETE("/:jobId", jobHandler.DeleteJob)
		}

		// Settings endpoints
		authed.GET("/settings", settingsHandler.GetSettings)
		authed.POST("/settings", settingsHandler.UpdateSettings)

		authed.POST("/remote/test", remoteHandler.TestRemote)
	}
}
