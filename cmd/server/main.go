package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"taleforge.dev/engine/common/id"
	"taleforge.dev/engine/common/logger"
	"taleforge.dev/engine/common/otel"
	"taleforge.dev/engine/core/config"
	"taleforge.dev/engine/internal/branchcache"
	"taleforge.dev/engine/internal/contentindex"
	"taleforge.dev/engine/internal/httpapi"
	"taleforge.dev/engine/internal/llm"
	"taleforge.dev/engine/internal/pagegen"
	"taleforge.dev/engine/internal/planengine"
	"taleforge.dev/engine/internal/store"
	"taleforge.dev/engine/internal/storyruntime"
	"taleforge.dev/engine/internal/usageledger"
	"taleforge.dev/engine/internal/verifier"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel())
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTelEndpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "engine starting", "env", cfg.Env, "service", cfg.OTelServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	st, err := store.NewMongoStore(ctx, store.Config{URL: cfg.MongoURL, Database: cfg.MongoDB})
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to mongo", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "mongo connected")

	var sink branchcache.StatusSink
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected")
		sink = branchcache.NewRedisStatusSink(redisClient)
	}

	ledger, err := usageledger.New(ctx, cfg.AnalyticsDatabaseURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize usage ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	index, err := contentindex.New(ctx, cfg.TypesenseURL, cfg.TypesenseAPIKey)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize content index", "error", err)
		os.Exit(1)
	}

	gw, err := llm.New(llm.Config{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		FastModel: cfg.OpenAIModel,
		BigModel:  cfg.OpenAIBigModel,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize llm gateway", "error", err)
		os.Exit(1)
	}
	gw = usageledger.Wrap(gw, ledger)

	gen := pagegen.New(gw)
	plan := planengine.New(gw, st)
	ver := verifier.New(gw, st)
	coord := branchcache.New(st, gen, plan, ver, sink)
	rt := storyruntime.New(st, gen, plan, coord, ver, index)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, st, rt)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, st store.Store, rt *storyruntime.Runtime) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span -> Recovery catches panics -> Logger logs with trace context
	if cfg.OTel().Enabled() {
		router.Use(otelgin.Middleware(cfg.OTelServiceName))
	}
	router.Use(httpapi.Recovery())
	router.Use(httpapi.Logger())

	h := httpapi.New(st, rt)
	httpapi.SetupRoutes(router, h)

	return router
}

const banner = `
████████╗ █████╗ ██╗     ███████╗███████╗ ██████╗ ██████╗  ██████╗ ███████╗
╚══██╔══╝██╔══██╗██║     ██╔════╝██╔════╝██╔═══██╗██╔══██╗██╔════╝ ██╔════╝
   ██║   ███████║██║     █████╗  █████╗  ██║   ██║██████╔╝██║  ███╗█████╗
   ██║   ██╔══██║██║     ██╔══╝  ██╔══╝  ██║   ██║██╔══██╗██║   ██║██╔══╝
   ██║   ██║  ██║███████╗███████╗██║     ╚██████╔╝██║  ██║╚██████╔╝███████╗
   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝      ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚══════╝
`
