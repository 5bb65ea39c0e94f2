package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lgulliver/tusgate/cmd/upload-server/middleware"
	"github.com/lgulliver/tusgate/cmd/upload-server/routes"
	"github.com/lgulliver/tusgate/internal/auth"
	"github.com/lgulliver/tusgate/internal/common"
	"github.com/lgulliver/tusgate/internal/notify"
	"github.com/lgulliver/tusgate/internal/storage"
	"github.com/lgulliver/tusgate/internal/upload"
	"github.com/lgulliver/tusgate/pkg/config"
	"github.com/lgulliver/tusgate/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	genAPIKey := flag.Bool("gen-api-key", false, "print a new API key and its bcrypt hash, then exit")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given subject, then exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token printed by -issue-token")
	flag.Parse()

	if *genAPIKey {
		if err := printAPIKey(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logging
	cfg.Logging.SetupLogging()

	authService := auth.NewService(&cfg.Auth)

	if *issueToken != "" {
		token, err := authService.IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	log.Info().Str("prefix", cfg.Upload.Prefix).Msg("Starting tusgate upload server")

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage)
	blobStorage, err := storageFactory.CreateStorage()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	var (
		cache *common.Cache
		db    *common.Database
	)
	needsRedis := cfg.Storage.RecordBackend == "redis" || cfg.Upload.LockBackend == "redis" || cfg.Notify.RedisChannel != ""
	needsDatabase := cfg.Storage.RecordBackend == "database" || cfg.Notify.Database

	if needsRedis {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer cache.Close()
	}

	if needsDatabase {
		db, err = common.NewDatabase(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	records, err := newRecordStore(cfg, blobStorage, cache, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize upload records")
	}

	locker, err := newLocker(cfg, cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize upload locks")
	}

	hooks := notify.Multi{notify.LogHook{}}
	if cfg.Notify.RedisChannel != "" {
		hooks = append(hooks, notify.NewRedisPublisher(cache, cfg.Notify.RedisChannel))
	}
	if cfg.Notify.Database {
		hooks = append(hooks, notify.NewDBRecorder(db.DB))
	}

	store := upload.NewStore(blobStorage, records)
	manager := upload.NewManager(store, locker, hooks, upload.Options{
		MaxSize:     cfg.Upload.MaxSize,
		Retention:   cfg.Upload.Retention(),
		LockTimeout: cfg.Upload.LockTimeout,
		HookTimeout: cfg.Upload.HookTimeout,
	})

	scheduler := upload.NewCleanupScheduler(upload.NewSweeper(store, locker), cfg.Upload.SweepInterval)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup HTTP server
	router := setupRouter(cfg, manager, authService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).
			Str("max_size", utils.FormatBytes(cfg.Upload.MaxSize)).
			Str("record_backend", cfg.Storage.RecordBackend).
			Str("lock_backend", cfg.Upload.LockBackend).
			Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Give outstanding uploads 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func printAPIKey() error {
	key, err := utils.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}
	hash, err := utils.HashPassword(key, 12)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	fmt.Printf("api key:      %s\n", key)
	fmt.Printf("api key hash: %s\n", hash)
	return nil
}

func newRecordStore(cfg *config.Config, blobs storage.BlobStorage, cache *common.Cache, db *common.Database) (upload.RecordStore, error) {
	switch cfg.Storage.RecordBackend {
	case "sidecar", "":
		return upload.NewSidecarRecords(blobs), nil
	case "redis":
		return upload.NewRedisRecords(cache.Client(), cache.Prefix()), nil
	case "database":
		return upload.NewGormRecords(db.DB), nil
	default:
		return nil, fmt.Errorf("unsupported record backend: %s", cfg.Storage.RecordBackend)
	}
}

func newLocker(cfg *config.Config, cache *common.Cache) (upload.Locker, error) {
	switch cfg.Upload.LockBackend {
	case "memory", "":
		return upload.NewMemoryLocker(), nil
	case "redis":
		return upload.NewRedisLocker(cache.Client(), cache.Prefix(), 0), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Upload.LockBackend)
	}
}

func setupRouter(cfg *config.Config, manager *upload.Manager, authService *auth.Service) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.RequestLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tusgate",
			"time":    time.Now().UTC(),
		})
	})

	routes.UploadRoutes(router, manager, authService, routes.Options{
		Prefix:       cfg.Upload.Prefix,
		FragmentSize: cfg.Upload.FragmentSize,
	})

	return router
}
