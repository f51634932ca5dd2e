// Command server is the gateway's entry point: it loads configuration,
// wires every subsystem together by hand (no DI container runs here,
// since generating one requires invoking the Go toolchain), and serves
// the HTTP surface until an interrupt asks it to shut down.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/logger"
	"github.com/antigravity-gateway/gateway/internal/modelrouter"
	"github.com/antigravity-gateway/gateway/internal/ratelimit"
	"github.com/antigravity-gateway/gateway/internal/scheduler"
	"github.com/antigravity-gateway/gateway/internal/server"
	"github.com/antigravity-gateway/gateway/internal/store"
	"github.com/antigravity-gateway/gateway/internal/streaming"
	"github.com/antigravity-gateway/gateway/internal/tokenauth"
	"github.com/antigravity-gateway/gateway/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	cfg.ModelMap = modelrouter.DefaultModelMap()

	logger.Init(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Log.ServiceName,
		ToStdout:    cfg.Log.ToStdout,
		ToFile:      cfg.Log.ToFile,
		FilePath:    cfg.Log.FilePath,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	log := logger.L().Sugar()

	accounts, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalw("open account store", "error", err)
	}

	var rateLimitBackend ratelimit.Backend
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rateLimitBackend = ratelimit.NewRedisBackend(redisClient)
	} else {
		rateLimitBackend = ratelimit.NewMemoryBackend()
	}

	tokens := tokenauth.New(accounts, cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
	limiter := ratelimit.New(rateLimitBackend, accounts)
	sched := scheduler.New(accounts, limiter, cfg.Dispatch.SessionTTL, cfg.Dispatch.SchedulerMaxWait)
	client := upstream.New(upstream.Options{Timeout: cfg.Dispatch.RequestTimeout, ProxyURL: cfg.Proxy.URL})
	endpoints := upstream.NewEndpointAvailability(0)
	dispatcher := dispatch.New(sched, tokens, limiter, accounts, client, endpoints, cfg.Dispatch)

	router := modelrouter.New(cfg.ModelMap)
	engine := streaming.New()
	handlers := server.NewHandlers(dispatcher, router, engine, cfg)

	stopSweeper := startSweeper(sched, rateLimitBackend)
	defer stopSweeper()

	httpServer := &http.Server{
		Addr:              addrFor(cfg.Server.Port, cfg.Server.AllowLANAccess),
		Handler:           server.SetupRouter(handlers, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("gateway listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http server", "error", err)
		}
	}()

	waitForShutdown(httpServer, log)
}

// addrFor binds to loopback only unless LAN access is explicitly
// enabled, so AUTO-mode's unauthenticated-loopback carve-out can never
// be reached from outside the host by accident.
func addrFor(port int, allowLAN bool) string {
	host := "127.0.0.1"
	if allowLAN {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(port)
}

// startSweeper schedules the periodic lockout/session-binding cleanup
// that keeps both in-memory tables from growing unbounded between
// requests. Returns a stop func.
func startSweeper(sched *scheduler.Scheduler, backend ratelimit.Backend) func() {
	c := cron.New()
	_, _ = c.AddFunc("@every 1m", func() {
		now := time.Now()
		sched.SweepBindings(now)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ratelimit.Sweep(ctx, backend, now); err != nil {
			logger.L().Sugar().Warnw("sweep lockout backend", "error", err)
		}
	})
	c.Start()
	return func() { <-c.Stop().Done() }
}

func waitForShutdown(httpServer *http.Server, log *zap.SugaredLogger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown", "error", err)
	}
}
