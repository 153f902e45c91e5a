package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	mongoadapter "github.com/foker/tgflats-sub000/internal/adapter/mongo"
	natsadapter "github.com/foker/tgflats-sub000/internal/adapter/nats"
	redisadapter "github.com/foker/tgflats-sub000/internal/adapter/redis"
	"github.com/foker/tgflats-sub000/internal/adapter/s3"
	"github.com/foker/tgflats-sub000/internal/ai"
	"github.com/foker/tgflats-sub000/internal/app/config"
	"github.com/foker/tgflats-sub000/internal/cluster"
	"github.com/foker/tgflats-sub000/internal/costguard"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/geocode"
	"github.com/foker/tgflats-sub000/internal/pipeline"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/platform/metrics"
	httpport "github.com/foker/tgflats-sub000/internal/port/http"
	"github.com/foker/tgflats-sub000/internal/subscription"
)

type App struct {
	cfg         *config.Config
	log         logger.Logger
	server      *httpport.Server
	metricsSrv  *metrics.Server
	coordinator *pipeline.Coordinator
	mongoClient *mongo.Client
	redisClient *redis.Client
	natsConn    *natsio.Conn
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	appLogger, err := logger.NewZapLogger(logger.Config{
		Level:      cfg.Logger.Level,
		Encoding:   cfg.Logger.Encoding,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger.Info("Logger initialized")
	appLogger.Infof("Configuration loaded: Env=%s, HTTP Port: %s", cfg.Env, cfg.HTTPServer.Port)

	appLogger.Info("Initializing MongoDB client...")
	mongoClient, err := mongoadapter.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MongoDB client: %w", err)
	}
	appLogger.Info("MongoDB client initialized successfully")

	appLogger.Info("Initializing Redis client...")
	redisClient, err := redisadapter.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	appLogger.Info("Redis client initialized successfully")

	rawPostRepo, err := mongoadapter.NewRawPostRepository(ctx, mongoClient, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize raw post repository: %w", err)
	}
	listingRepo, err := mongoadapter.NewListingRepository(ctx, mongoClient, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize listing repository: %w", err)
	}
	usageRepo, err := mongoadapter.NewAIUsageRepository(ctx, mongoClient, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage repository: %w", err)
	}
	appLogger.Info("Repositories initialized")

	mm := metrics.NewManager("tgflats")

	guard := costguard.NewGuard(usageRepo, cfg.CostGuard.MonthlyLimitUSD, cfg.CostGuard.WarnRatio, appLogger)
	guard.SetSpendObserver(func(costUSD float64) { mm.AISpendUSD.Add(costUSD) })

	extractionCache := redisadapter.NewExtractionCache(redisClient, cfg.AI.CacheTTL)
	providers := []ai.Provider{
		ai.NewChatProvider(cfg.AI.Primary),
		ai.NewChatProvider(cfg.AI.Secondary),
	}
	analyzer := ai.NewAnalyzer(extractionCache, providers, guard, cfg.AI.CacheTTL, appLogger)
	analyzer.SetObserver(func(source entity.ExtractionSource) {
		mm.ExtractionsTotal.WithLabelValues(string(source)).Inc()
	})
	appLogger.Info("Extraction analyzer initialized")

	bounds := geocode.CityBounds{
		MinLat: cfg.Geocoding.MinLat,
		MinLng: cfg.Geocoding.MinLng,
		MaxLat: cfg.Geocoding.MaxLat,
		MaxLng: cfg.Geocoding.MaxLng,
	}
	geocodeCache := redisadapter.NewGeocodeCache(redisClient)
	geoProviders := []geocode.GeoProvider{
		geocode.NewGoogleProvider(cfg.Geocoding.Primary, bounds),
		geocode.NewOpenCageProvider(cfg.Geocoding.Secondary, bounds),
	}
	resolver := geocode.NewResolver(geocodeCache, geoProviders, bounds, appLogger)
	resolver.SetObserver(func(provider string) {
		mm.GeocodeTotal.WithLabelValues(provider).Inc()
	})
	appLogger.Info("Geocode resolver initialized")

	engine := cluster.NewEngine(cfg.Clustering)

	broadcaster := subscription.NewBroadcaster(cfg.Subscriptions.MaxPerConnection, appLogger)
	broadcaster.SetMatchObserver(func(matches int) {
		mm.BroadcastMatches.Add(float64(matches))
	})

	var natsConn *natsio.Conn
	var publisher natsadapter.EventPublisher
	if cfg.NATS.URL != "" {
		natsConn, err = natsadapter.NewConnection(cfg.NATS)
		if err != nil {
			appLogger.Warnf("NATS unavailable, listing events disabled: %v", err)
		} else {
			publisher, err = natsadapter.NewPublisher(natsConn, cfg.NATS.Subject)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize NATS publisher: %w", err)
			}
			appLogger.Info("NATS publisher initialized")
		}
	}

	var mediaStore *s3.MediaStore
	if cfg.MinIO.Endpoint != "" {
		mediaStore, err = s3.NewMediaStore(ctx, cfg.MinIO, appLogger)
		if err != nil {
			appLogger.Warnf("MinIO unavailable, media archiving disabled: %v", err)
			mediaStore = nil
		} else {
			appLogger.Info("Media store initialized")
		}
	}

	coordinator := pipeline.NewCoordinator(
		cfg.Pipeline,
		rawPostRepo,
		listingRepo,
		analyzer,
		resolver,
		broadcaster,
		publisher,
		mediaStore,
		appLogger,
	)
	coordinator.SetQueueObserver(func(stage pipeline.Stage, ok bool, duration time.Duration) {
		if ok {
			mm.JobsProcessedTotal.WithLabelValues(string(stage)).Inc()
		} else {
			mm.JobsFailedTotal.WithLabelValues(string(stage)).Inc()
		}
		if duration > 0 {
			mm.StageDuration.WithLabelValues(string(stage)).Observe(duration.Seconds())
		}
	})
	appLogger.Info("Pipeline coordinator initialized")

	handler := httpport.NewHandler(coordinator, analyzer, resolver, engine, listingRepo, usageRepo, guard, appLogger)
	server := httpport.NewServer(cfg.HTTPServer, handler, appLogger)
	metricsSrv := metrics.NewServer(cfg.Metrics.Port, mm)

	return &App{
		cfg:         cfg,
		log:         appLogger,
		server:      server,
		metricsSrv:  metricsSrv,
		coordinator: coordinator,
		mongoClient: mongoClient,
		redisClient: redisClient,
		natsConn:    natsConn,
	}, nil
}

func (a *App) Run() {
	a.log.Info("Starting application components...")

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	a.coordinator.Start(pipelineCtx)

	a.metricsSrv.Start(a.log)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	a.log.Info("HTTP server started in a goroutine")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit
	a.log.Infof("Received shutdown signal: %v. Shutting down application...", receivedSignal)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPServer.TimeoutGraceful+5*time.Second)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.log.Errorf("Error during HTTP server graceful shutdown: %v", err)
	} else {
		a.log.Info("HTTP server stopped successfully")
	}

	// Stop intake first, then let in-flight jobs drain before cancelling.
	a.coordinator.Stop()
	cancelPipeline()
	a.log.Info("Pipeline stopped")

	if err := a.metricsSrv.Stop(shutdownCtx); err != nil {
		a.log.Errorf("Error stopping metrics server: %v", err)
	}

	if a.natsConn != nil {
		a.natsConn.Drain()
		a.log.Info("NATS connection drained")
	}

	a.log.Info("Closing database connections...")

	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(shutdownCtx); err != nil {
			a.log.Errorf("Error disconnecting from MongoDB: %v", err)
		} else {
			a.log.Info("MongoDB connection closed successfully")
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Errorf("Error closing Redis client: %v", err)
		} else {
			a.log.Info("Redis client closed successfully")
		}
	}

	a.log.Info("Application shut down successfully")
}
