package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/23f1001861/email-sender/internal/api"
	"github.com/23f1001861/email-sender/internal/circuitbreaker"
	"github.com/23f1001861/email-sender/internal/completion"
	"github.com/23f1001861/email-sender/internal/config"
	"github.com/23f1001861/email-sender/internal/dispatcher"
	"github.com/23f1001861/email-sender/internal/metrics"
	"github.com/23f1001861/email-sender/internal/queue"
	"github.com/23f1001861/email-sender/internal/ratelimit"
	"github.com/23f1001861/email-sender/internal/reconciler"
	"github.com/23f1001861/email-sender/internal/store/postgres"
	"github.com/23f1001861/email-sender/internal/submission"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// .env is a development convenience; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err == nil {
		log.Println("email-sender: loaded .env")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`email-sender - staggered bulk email dispatch service

Usage:
  email-sender <command>

Commands:
  serve      Start the API server and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for rate limiting (default: "localhost:6379")
  HTTP_ADDR                 HTTP server address (default: ":8080")

  MAILER_URL                Email provider endpoint (required)
  MAILER_API_KEY            Email provider API key
  MAILER_TIMEOUT            Per-send request timeout (default: "30s")

  DISPATCHER_WORKERS        Concurrent send workers (default: "5")
  THROUGHPUT_LIMIT          Max sends per throughput window (default: "10")
  THROUGHPUT_WINDOW         Global throughput window (default: "60s")
  QUEUE_BUFFER_SIZE         Delivery channel buffer (default: "100")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher drain timeout (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  RECONCILE_ENABLED         Enable stuck-recipient reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stuck recipients (default: "5m")
  RECONCILE_THRESHOLD       Age before a recipient counts as stuck (default: "15m")
  RECONCILE_BATCH_SIZE      Max stuck recipients per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures per domain before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown per domain (default: "2m")`)
}

// redisPinger adapts a redis client to the api.HealthChecker interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// probeRecipientsTable verifies the schema migrations have been applied.
// Returns sql.ErrNoRows if the recipients table is missing.
func probeRecipientsTable(db *sql.DB) error {
	var one int
	return db.QueryRow(
		`SELECT 1 FROM information_schema.columns
		 WHERE table_name = 'recipients' AND column_name = 'status'`,
	).Scan(&one)
}

// logConfigWarnings flags configurations that run but degrade delivery
// guarantees.
func logConfigWarnings(cfg *config.Config) {
	if !cfg.ReconcileEnabled {
		log.Println("email-sender: WARNING [P0]: RECONCILE_ENABLED=false - recipients stuck after a crash will never be retried")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("email-sender: WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0 - failing provider domains will be hammered until attempts run out")
	}
	if !cfg.MetricsEnabled {
		log.Println("email-sender: NOTE: METRICS_ENABLED=false - no visibility into send outcomes")
	}
	if cfg.DispatcherWorkers > cfg.ThroughputLimit {
		log.Printf("email-sender: NOTE: DISPATCHER_WORKERS=%d exceeds THROUGHPUT_LIMIT=%d; extra workers will idle on the rate limiter",
			cfg.DispatcherWorkers, cfg.ThroughputLimit)
	}
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("email-sender: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	if err := probeRecipientsTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "schema probe failed (run migrations first): %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()
	limiter := ratelimit.New(ratelimit.NewRedisCounterStore(redisClient))
	log.Printf("email-sender: rate limiter using redis=%s", cfg.RedisAddr)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("email-sender: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("email-sender: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("email-sender: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("email-sender: METRICS_ENABLED not set; metrics disabled")
	}

	// Delayed task queue with optional metrics
	taskQueue := queue.NewMemory(cfg.QueueBufferSize)
	if metricsSink != nil {
		taskQueue = taskQueue.WithMetrics(metricsSink)
	}

	mailer := dispatcher.NewHTTPMailer(cfg.MailerURL, cfg.MailerAPIKey, cfg.MailerTimeout)
	tracker := completion.New(store)
	if metricsSink != nil {
		tracker = tracker.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(
		dispatcher.Config{
			Workers:          cfg.DispatcherWorkers,
			Throughput:       cfg.ThroughputLimit,
			ThroughputWindow: cfg.ThroughputWindow,
		},
		store,
		mailer,
		limiter,
		tracker,
		taskQueue,
		ratelimit.NextWindow,
	)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("email-sender: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	submitter := submission.New(store, taskQueue)
	if metricsSink != nil {
		submitter = submitter.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(store, submitter).
		WithHealthChecker("postgres", db).
		WithHealthChecker("redis", redisPinger{client: redisClient})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("email-sender: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("email-sender: http server error: %v", err)
		}
	}()

	// Use separate contexts for the queue, dispatcher, and reconciler to
	// enable ordered shutdown.
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var queueWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var reconcilerWg sync.WaitGroup
	var cancelReconciler context.CancelFunc

	queueWg.Add(1)
	go func() {
		defer queueWg.Done()
		taskQueue.Run(queueCtx)
	}()

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx)
	}()

	// Start reconciler if enabled
	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			taskQueue,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
		log.Printf("email-sender: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
	} else {
		log.Println("email-sender: RECONCILE_ENABLED not set; reconciler disabled")
	}

	log.Printf("email-sender: started (workers=%d, throughput=%d/%s, http=%s)",
		cfg.DispatcherWorkers, cfg.ThroughputLimit, cfg.ThroughputWindow, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("email-sender: received signal %v, shutting down", received)

	// Phase 1: Stop the HTTP server so no new submissions arrive
	log.Println("email-sender: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("email-sender: http server shutdown error: %v", err)
	}
	log.Println("email-sender: http server stopped")

	// Phase 2: Stop reconciler (no new re-enqueues)
	if cancelReconciler != nil {
		log.Println("email-sender: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
		log.Println("email-sender: reconciler stopped")
	}

	// Phase 3: Stop the queue scheduler (no new deliveries emitted)
	log.Println("email-sender: stopping queue...")
	cancelQueue()
	queueWg.Wait()
	log.Println("email-sender: queue stopped")

	// Phase 4: Stop dispatcher workers after they finish in-flight sends
	log.Println("email-sender: stopping dispatcher...")
	cancelDispatcher()
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcherWg.Wait()
		close(dispatcherDone)
	}()
	select {
	case <-dispatcherDone:
		log.Println("email-sender: dispatcher stopped")
	case <-time.After(cfg.DispatcherDrainTimeout):
		log.Printf("email-sender: dispatcher drain timed out after %s, abandoning in-flight sends", cfg.DispatcherDrainTimeout)
	}

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("email-sender: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("email-sender: metrics server shutdown error: %v", err)
		}
		log.Println("email-sender: metrics server stopped")
	}

	log.Println("email-sender: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("email-sender version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
