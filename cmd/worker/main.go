package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/cache"
	"mailprobe/internal/dnsx"
	"mailprobe/internal/engine"
	"mailprobe/internal/history"
	"mailprobe/internal/probe"
	"mailprobe/internal/provider"
	"mailprobe/internal/proxy"
	"mailprobe/internal/queue"
	"mailprobe/internal/ratelimit"
	"mailprobe/internal/results"
	"mailprobe/internal/settings"
	"mailprobe/internal/store"
	"mailprobe/internal/worker"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1"
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	fmt.Println("🚀 Starting Mailprobe worker...")

	// 1. Queue
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	q, err := queue.Connect(redisAddr)
	if err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	defer q.Close()
	fmt.Println("✅ Connected to Redis")

	// 2. Database
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("❌ DB_URL environment variable is required")
	}
	db, err := store.Open(dbURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	defer db.Close()
	fmt.Println("✅ Connected to PostgreSQL")

	// 3. Verification engine, same wiring as the API process.
	dataDir := envOr("DATA_DIR", "./data")

	var key *[32]byte
	if hexKey := os.Getenv("SETTINGS_KEY"); hexKey != "" {
		key, err = settings.KeyFromHex(hexKey)
		if err != nil {
			log.Fatalf("❌ Invalid SETTINGS_KEY: %v", err)
		}
	}
	svc, err := settings.Load(filepath.Join(dataDir, "settings.json"), dataDir, key, logger)
	if err != nil {
		log.Fatalf("❌ Failed to load settings: %v", err)
	}

	var proxies []string
	if raw := os.Getenv("PROXY_LIST"); raw != "" {
		proxies = strings.Split(raw, ",")
	} else {
		proxies = svc.Proxies()
	}
	proxyMgr, err := proxy.NewManager(proxies, 0, envBool("SMTP_PROXY_ENABLED"))
	if err != nil {
		log.Fatalf("❌ Failed to initialize proxy manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := dnsx.New(logger)
	limiter := ratelimit.New(10, time.Minute, logger)
	domains := cache.NewTTL()
	domains.StartCleanup(ctx, 5*time.Minute)

	resultStore, err := results.Open(dataDir, logger)
	if err != nil {
		log.Fatalf("❌ Failed to open result store: %v", err)
	}
	hist, err := history.Open(envOr("HISTORY_DIR", "./statistics/history"), logger)
	if err != nil {
		log.Fatalf("❌ Failed to open history log: %v", err)
	}

	probes := map[provider.ProbeKind]probe.Prober{
		provider.ProbeSMTP: probe.NewSMTPProbe(
			envOr("SMTP_HELLO_HOST", "localhost"),
			envOr("SMTP_MAIL_FROM", "verify@localhost"),
			svc.IsEnabled("catch_all_check", true),
			resolver, limiter, domains, proxyMgr, logger),
		provider.ProbeAPI: probe.NewMicrosoftAPIProbe(limiter, domains, proxyMgr, logger),
	}
	if envBool("BROWSER_ENABLED") {
		browserProbe, err := probe.NewBrowserProbe(probe.BrowserConfig{
			Headless:       !envBool("BROWSER_HEADFUL"),
			Browsers:       svc.Browsers(),
			ScreenshotMode: probe.ScreenshotMode(envOr("SCREENSHOT_MODE", "none")),
			ScreenshotDir:  envOr("SCREENSHOT_DIR", filepath.Join(dataDir, "screenshots")),
			ScreenshotKeep: svc.GetInt("screenshot_keep", 200),
		}, limiter, logger)
		if err != nil {
			log.Fatalf("❌ Failed to start browser probe: %v", err)
		}
		defer browserProbe.Close()
		probes[provider.ProbeBrowser] = browserProbe
	}

	eng := engine.New(engine.Config{
		Settings: svc,
		Resolver: resolver,
		Cache:    cache.NewResultCache(filepath.Join(dataDir, "cache.json"), logger),
		Store:    resultStore,
		History:  hist,
		Probes:   probes,
		Logger:   logger,
	})

	// 4. Run until signalled.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		fmt.Println("⏳ Shutdown signal received, finishing current task...")
		cancel()
	}()

	runner := worker.NewRunner(q, db, eng, logger)
	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("❌ Worker stopped: %v", err)
	}
	fmt.Println("✅ Worker shut down cleanly.")
}
