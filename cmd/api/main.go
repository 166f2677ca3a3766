package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailprobe/internal/bounce"
	"mailprobe/internal/cache"
	"mailprobe/internal/dnsx"
	"mailprobe/internal/engine"
	"mailprobe/internal/history"
	"mailprobe/internal/models"
	"mailprobe/internal/probe"
	"mailprobe/internal/provider"
	"mailprobe/internal/proxy"
	"mailprobe/internal/queue"
	"mailprobe/internal/ratelimit"
	"mailprobe/internal/results"
	"mailprobe/internal/settings"
	"mailprobe/internal/store"
	"mailprobe/internal/task"
)

// Shared by the handlers in this package. Optional backends stay nil
// when their env vars are absent and the endpoints report 503.
var (
	logger   *zap.Logger
	svc      *settings.Service
	eng      *engine.Engine
	orch     *task.Orchestrator
	bouncer  *bounce.Verifier
	jobQueue *queue.Queue
	jobDB    *store.DB
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1"
}

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	dataDir := envOr("DATA_DIR", "./data")
	historyDir := envOr("HISTORY_DIR", "./statistics/history")

	// 1. Settings (key/value tunables, SMTP accounts, domain lists)
	var key *[32]byte
	if hexKey := os.Getenv("SETTINGS_KEY"); hexKey != "" {
		key, err = settings.KeyFromHex(hexKey)
		if err != nil {
			log.Fatalf("❌ Invalid SETTINGS_KEY: %v", err)
		}
	}
	svc, err = settings.Load(filepath.Join(dataDir, "settings.json"), dataDir, key, logger)
	if err != nil {
		log.Fatalf("❌ Failed to load settings: %v", err)
	}
	fmt.Println("✅ Settings loaded")

	// 2. Proxy rotation
	proxies := svc.Proxies()
	if raw := os.Getenv("PROXY_LIST"); raw != "" {
		proxies = strings.Split(raw, ",")
	}
	proxyMgr, err := proxy.NewManager(proxies, envInt("PROXY_CONCURRENCY", 0), envBool("SMTP_PROXY_ENABLED"))
	if err != nil {
		log.Fatalf("❌ Failed to initialize proxy manager: %v", err)
	}
	if proxyMgr.Enabled() {
		fmt.Printf("🛡️  Proxy rotation enabled (%d proxies loaded)\n", len(proxies))
		if proxyMgr.SMTPEnabled() {
			fmt.Println("⚠️  SMTP proxying is ENABLED (port 25 traffic routes through proxies)")
		} else {
			fmt.Println("✅ SMTP proxying is DISABLED (port 25 traffic routes direct)")
		}
	} else {
		fmt.Println("⚠️  No proxies configured. Running with direct connections.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Engine components
	resolver := dnsx.New(logger)
	limiter := ratelimit.New(10, time.Minute, logger)
	domains := cache.NewTTL()
	domains.StartCleanup(ctx, 5*time.Minute)

	resultCache := cache.NewResultCache(filepath.Join(dataDir, "cache.json"), logger)
	resultStore, err := results.Open(dataDir, logger)
	if err != nil {
		log.Fatalf("❌ Failed to open result store: %v", err)
	}
	hist, err := history.Open(historyDir, logger)
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
		fmt.Println("✅ Browser probe ready")
	} else {
		fmt.Println("⚠️  Browser probe disabled (BROWSER_ENABLED not set)")
	}

	eng = engine.New(engine.Config{
		Settings: svc,
		Resolver: resolver,
		Cache:    resultCache,
		Store:    resultStore,
		History:  hist,
		Probes:   probes,
		Logger:   logger,
	})

	orch = task.NewOrchestrator(eng, envInt("WORKERS", 4), float64(envInt("RATE_PER_SECOND", 2)), logger)

	bouncer, err = bounce.NewVerifier(filepath.Join(dataDir, "batches"), svc.SMTPAccounts(), logger)
	if err != nil {
		log.Fatalf("❌ Failed to initialize bounce verifier: %v", err)
	}

	// 4. Optional process-isolated pipeline (Redis + Postgres)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		fmt.Printf("🔌 Connecting to Redis at %s...\n", redisAddr)
		jobQueue, err = queue.Connect(redisAddr)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		fmt.Println("✅ Connected to Redis queue")
	}
	if dbURL := os.Getenv("DB_URL"); dbURL != "" {
		fmt.Println("🔌 Connecting to database...")
		jobDB, err = store.Open(dbURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to DB: %v", err)
		}
		fmt.Println("✅ Connected to PostgreSQL & migrations applied")
	}

	// 5. Routes
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", enableCORS(requireAPIKey(verifyHandler)))
	mux.HandleFunc("/batch", enableCORS(requireAPIKey(batchHandler)))
	mux.HandleFunc("/batch/status", enableCORS(requireAPIKey(taskStatusHandler)))
	mux.HandleFunc("/batch/results", enableCORS(requireAPIKey(taskResultsHandler)))
	mux.HandleFunc("/bounce/start", enableCORS(requireAPIKey(bounceStartHandler)))
	mux.HandleFunc("/bounce/results", enableCORS(requireAPIKey(bounceResultsHandler)))
	mux.HandleFunc("/upload", enableCORS(requireAPIKey(uploadHandler)))
	mux.HandleFunc("/jobs/status", enableCORS(requireAPIKey(jobStatusHandler)))
	mux.HandleFunc("/jobs/results", enableCORS(requireAPIKey(jobResultsHandler)))
	mux.HandleFunc("/summary", enableCORS(requireAPIKey(summaryHandler)))
	mux.HandleFunc("/history", enableCORS(requireAPIKey(historyHandler)))
	mux.HandleFunc("/reload", enableCORS(requireAPIKey(reloadHandler)))
	mux.HandleFunc("/info", enableCORS(infoHandler))

	server := &http.Server{
		Addr:         ":" + envOr("PORT", "8080"),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 6. Graceful shutdown on SIGTERM / SIGINT.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		fmt.Printf("🚀 Mailprobe verification engine running on %s\n", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	<-quit
	fmt.Println("⏳ Shutdown signal received, draining in-flight requests...")
	cancel()

	resultCache.Save()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("❌ Graceful shutdown failed: %v", err)
	}
	fmt.Println("✅ Server shut down cleanly.")
}

// enableCORS sets permissive CORS headers for frontend access. Restrict
// Access-Control-Allow-Origin to the real frontend origin in production.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("response encode failed", zap.Error(err))
	}
}

func verifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "Missing 'email' parameter", http.StatusBadRequest)
		return
	}
	method := r.URL.Query().Get("method")
	if method == "" {
		method = models.MethodAuto
	}
	switch method {
	case models.MethodAuto, models.MethodLogin, models.MethodSMTP:
	default:
		http.Error(w, "Unknown method, expected auto, login or smtp", http.StatusBadRequest)
		return
	}

	result := eng.Verify(r.Context(), email, method)
	writeJSON(w, http.StatusOK, result)
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	guide := map[string]interface{}{
		"service": "Mailprobe Verification Engine",
		"version": "1.0.0",
		"capabilities": []string{
			"SMTP RCPT probing with catch-all detection",
			"Microsoft GetCredentialType API",
			"Browser login-form probing (Google, Microsoft, Yahoo, generic)",
			"Send-and-wait bounce verification",
			"Bulk batches (in-process and queue-backed)",
		},
	}
	writeJSON(w, http.StatusOK, guide)
}
