package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/CodingDoug/universal-translator/internal/cfg"
	"github.com/CodingDoug/universal-translator/internal/events"
	"github.com/CodingDoug/universal-translator/internal/httpapi"
	"github.com/CodingDoug/universal-translator/internal/logging"
	"github.com/CodingDoug/universal-translator/internal/metrics"
	"github.com/CodingDoug/universal-translator/internal/pipeline"
	"github.com/CodingDoug/universal-translator/internal/recording"
	"github.com/CodingDoug/universal-translator/internal/speech"
	"github.com/CodingDoug/universal-translator/internal/translate"
)

const (
	healthServiceName = "babelfire.Pipeline"
	shutdownTimeout   = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	config, err := cfg.LoadConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(config.LogLevel, config.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mongoClient, store, err := connectStore(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect", zap.Error(err))
		}
	}()

	blobs, err := recording.NewMinioBlobs(config.MinioEndpoint, config.MinioAccessKey, config.MinioSecretKey, config.MinioUseSSL, config.MinioBucket)
	if err != nil {
		return fmt.Errorf("init minio: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipeline(registry)

	var redisClient *redis.Client
	if config.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	openaiConfig := openai.DefaultConfig(config.OpenAIAPIKey)
	if config.OpenAIBaseURL != "" {
		openaiConfig.BaseURL = config.OpenAIBaseURL
	}
	openaiClient := openai.NewClientWithConfig(openaiConfig)

	recognizer := speech.NewRecognizer(speech.NewWhisperEngine(openaiClient, blobs, config.WhisperModel, logger))

	translator, err := buildTranslator(ctx, config, openaiClient, redisClient, pipelineMetrics, logger)
	if err != nil {
		return err
	}
	fanOut, err := translate.NewFanOut(translator, config.TargetLanguages)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithMetrics(pipelineMetrics)}
	if config.KafkaStatusTopic != "" {
		producer := events.NewStatusProducer(config.KafkaBrokers, config.KafkaStatusTopic)
		defer producer.Close()
		opts = append(opts, pipeline.WithStatusPublisher(producer))
	}
	pipe := pipeline.New(store, blobs, recognizer, fanOut, opts...)

	dispatcher := events.NewDispatcher(pipe, config.HandlerTimeout, logger)
	checkpoints := recording.NewMongoCheckpoints(mongoClient.Database(config.MongoDatabase).Collection(recording.DefaultCheckpointCollection))
	deleteWatcher := events.NewRecordDeleteWatcher(store, pipe, config.HandlerTimeout, logger, events.WithCheckpoints(checkpoints))

	api := httpapi.NewHandler(store, blobs, func(ctx context.Context, ownerID string, since time.Time) (httpapi.LatestFeed, error) {
		sub, err := store.SubscribeLatest(ctx, ownerID, since)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}, logger)

	var limitCounter httpapi.WindowCounter
	if redisClient != nil {
		limitCounter = httpapi.NewRedisCounter(redisClient)
	}
	createLimiter := httpapi.NewRateLimiter(config.CreateRateLimit, config.CreateRateWindow, limitCounter, logger)

	httpServer := &http.Server{
		Addr: ":" + config.HTTPPort,
		Handler: api.Routes(httpapi.RouterConfig{
			Gatherer:       registry,
			AllowedOrigins: config.CORSAllowedOrigins,
			CreateLimiter:  createLimiter,
			Health: func(ctx context.Context) error {
				return mongoClient.Ping(ctx, nil)
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", ":"+config.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthgrpc.RegisterHealthServer(grpcServer, healthServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ignoreCanceled(runBlobEvents(gctx, config, blobs, dispatcher, logger))
	})

	g.Go(func() error {
		return ignoreCanceled(deleteWatcher.Start(gctx))
	})

	healthServer.SetServingStatus("", healthgrpc.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, healthgrpc.HealthCheckResponse_SERVING)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return err
	}
	logger.Info("service stopped")
	return nil
}

func connectStore(ctx context.Context, config cfg.Config) (*mongo.Client, *recording.MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll, err := recording.EnsureCollection(connectCtx, client.Database(config.MongoDatabase), config.MongoCollection)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client, recording.NewMongoStore(coll), nil
}

func buildTranslator(
	ctx context.Context,
	config cfg.Config,
	openaiClient *openai.Client,
	redisClient *redis.Client,
	m *metrics.Pipeline,
	logger *zap.Logger,
) (translate.Translator, error) {
	var engine translate.Translator
	switch config.Translator {
	case cfg.TranslatorGemini:
		client, err := translate.NewGeminiClient(ctx, config.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		engine = translate.NewGeminiTranslator(client.Models, config.GeminiModel)
	default:
		engine = translate.NewOpenAITranslator(openaiClient, config.OpenAITranslateModel)
	}

	engine = translate.Observed(engine, m.ObserveTranslation)
	if redisClient != nil {
		engine = translate.NewCachedTranslator(engine, translate.NewRedisCache(redisClient), config.TranslationCacheTTL, logger)
	}
	logger.Info("translator configured",
		zap.String("engine", config.Translator),
		zap.Bool("cache", redisClient != nil),
		zap.Strings("targets", config.TargetLanguages),
	)
	return engine, nil
}

func runBlobEvents(ctx context.Context, config cfg.Config, blobs *recording.MinioBlobs, dispatcher *events.Dispatcher, logger *zap.Logger) error {
	if config.EventSource == cfg.EventSourceMinio {
		return events.NewMinioListener(blobs, dispatcher, logger).Start(ctx)
	}

	consumer := events.NewKafkaBlobConsumer(config.KafkaBrokers, config.KafkaBlobTopic, config.KafkaGroupID, dispatcher, logger)
	defer consumer.Close()
	return consumer.Start(ctx)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
