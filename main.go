package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"channel-service/internal/config"
	"channel-service/internal/db"
	"channel-service/internal/handlers"
	"channel-service/internal/logger"
	"channel-service/internal/middleware"
	"channel-service/internal/observability"
	"channel-service/internal/rabbitmq"
	"channel-service/internal/ratelimit"
	"channel-service/internal/repositories"
	"channel-service/internal/services"
	"channel-service/internal/storage/memory"
	"channel-service/internal/telemetry"
	"channel-service/internal/ws"
)

const auditRoutingKey = "audit.channel-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}

	var (
		channelRepo repositories.ChannelRepository
		messageRepo repositories.MessageRepository
		pinger      handlers.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		store := memory.New()
		channelRepo, messageRepo = store, store
		slog.Warn("using in-memory store, data is lost on restart")
	default:
		database, err := db.Connect(ctx, cfg.DatabaseDSN)
		if err != nil {
			slog.Error("failed to connect to db", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		channelRepo = repositories.NewChannelRepo(database)
		messageRepo = repositories.NewMessageRepo(database)
		pinger = database
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	slog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	auditEmitter := telemetry.NewAuditEmitter(publisher, auditRoutingKey, observability.ServiceName, cfg.Env)

	limiter, closeLimiter := newLimiter(ctx, cfg)
	defer closeLimiter()

	hub := ws.NewHub(cfg.WS.MaxConnections)

	directory := services.NewChannelDirectory(channelRepo)
	messages := services.NewMessages(messageRepo, hub)
	reactions := services.NewReactions(messageRepo, hub)
	reads := services.NewReadReceipts(messageRepo, channelRepo, hub)

	channelHandler := handlers.NewChannelHandler(directory, messages, reads, auditEmitter)
	messageHandler := handlers.NewMessageHandler(messages, reactions, reads, auditEmitter)
	wsHandler := ws.NewHandler(hub, messages, reads, limiter, ws.Options{
		SendBuffer:     cfg.WS.SendBuffer,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		PingInterval:   cfg.WS.PingInterval,
		PongWait:       cfg.WS.PongWait,
		WriteWait:      cfg.WS.WriteWait,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Logger(),
		gin.Recovery(),
		otelgin.Middleware(observability.ServiceName),
		middleware.RequestID(),
		middleware.UserIdentity(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", handlers.Health(pinger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)
	channelHandler.Register(router)
	messageHandler.Register(router)
	handlers.RegisterDebugRoutes(router, auditEmitter, hub, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("channel service listening", "port", cfg.Port, "store", cfg.StoreDriver, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracing shutdown", "err", err)
	}
	slog.Info("server stopped")
}

// newLimiter picks the send rate limiter: Redis when configured so every
// instance shares one budget, otherwise one bucket per process.
func newLimiter(ctx context.Context, cfg config.Config) (ratelimit.Limiter, func()) {
	if cfg.SendRate.Limit <= 0 {
		return ratelimit.Unlimited{}, func() {}
	}
	if cfg.RedisURL != "" {
		rl, err := ratelimit.NewRedis(ctx, cfg.RedisURL, cfg.SendRate.Limit, cfg.SendRate.Window)
		if err == nil {
			slog.Info("send rate limit backed by redis", "limit", cfg.SendRate.Limit, "window", cfg.SendRate.Window)
			return rl, func() {
				if err := rl.Close(); err != nil {
					slog.Warn("redis close", "err", err)
				}
			}
		}
		slog.Warn("redis unavailable, falling back to in-process rate limit", "err", err)
	}
	return ratelimit.NewMemory(cfg.SendRate.Limit, cfg.SendRate.Window), func() {}
}
