package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/flowdroplabs/flowdrop/api/handlers"
	"github.com/flowdroplabs/flowdrop/api/metrics"
	"github.com/flowdroplabs/flowdrop/api/notify"
	"github.com/flowdroplabs/flowdrop/api/server"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/scoring"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/store"
	"github.com/flowdroplabs/flowdrop/stream/pkg/superfluid"
	"github.com/flowdroplabs/flowdrop/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "address to listen on for the HTTP API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics")

	poolIDFlag := flag.String("pool-id", "", "distribution pool address (or set POOL_ID env var)")
	subgraphURLFlag := flag.String("subgraph-url", "", "pool subgraph endpoint (or set SUBGRAPH_URL env var)")
	distributorURLFlag := flag.String("distributor-url", "", "distributor service base URL, empty disables unit submission (or set DISTRIBUTOR_URL env var)")
	targetsFlag := flag.StringSlice("target-accounts", nil, "campaign target accounts (or set TARGET_ACCOUNTS env var, comma-separated)")

	modelFlag := flag.String("anthropic-model", "claude-sonnet-4-5", "Anthropic model for the primary evaluator")
	maxTokensFlag := flag.Int64("anthropic-max-tokens", 1024, "max tokens per evaluation response")
	primaryTimeoutFlag := flag.Duration("primary-timeout", 30*time.Second, "timeout for one primary evaluation before falling back to rules")

	refreshIntervalFlag := flag.Duration("refresh-interval", 10*time.Second, "pool snapshot refresh interval")
	redrawIntervalFlag := flag.Duration("redraw-interval", 100*time.Millisecond, "live balance redraw interval")
	migrateFlag := flag.Bool("migrate", false, "run database migrations before serving")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during graceful shutdown")

	flag.Parse()

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("POOL_ID"); env != "" {
		*poolIDFlag = env
	}
	if env := os.Getenv("SUBGRAPH_URL"); env != "" {
		*subgraphURLFlag = env
	}
	if env := os.Getenv("DISTRIBUTOR_URL"); env != "" {
		*distributorURLFlag = env
	}
	if env := os.Getenv("TARGET_ACCOUNTS"); env != "" {
		*targetsFlag = strings.Split(env, ",")
	}

	if *poolIDFlag == "" {
		return fmt.Errorf("--pool-id is required")
	}
	if *subgraphURLFlag == "" {
		return fmt.Errorf("--subgraph-url is required")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      os.Getenv("SENTRY_ENVIRONMENT"),
			Release:          version,
			EnableTracing:    true,
			TracesSampleRate: 0.1,
		}); err != nil {
			log.Warn("failed to initialize sentry, continuing without it", "error", err)
		} else {
			defer sentry.Flush(5 * time.Second)
		}
	}

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Persistence is optional: without a DSN the service runs on in-memory
	// history alone.
	var db *store.Store
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		if *migrateFlag {
			if err := store.RunMigrations(log, dsn); err != nil {
				return err
			}
		}
		var err error
		db, err = store.Connect(ctx, log, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
	} else {
		log.Warn("POSTGRES_DSN not set, scored posts will not be persisted")
	}

	hist := history.NewStore()
	if db != nil {
		totals, err := db.ListAuthorTotals(ctx)
		if err != nil {
			return fmt.Errorf("failed to warm author history: %w", err)
		}
		for authorID, entry := range totals {
			hist.Seed(authorID, entry)
		}
		log.Info("warmed author history from store", "authors", len(totals))
	}

	var primary scoring.Evaluator
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		primary = scoring.NewAnthropicEvaluator(log, anthropic.Model(*modelFlag), *maxTokensFlag, *targetsFlag)
		log.Info("primary evaluator enabled", "model", *modelFlag)
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, scoring on rules only")
	}

	engine, err := scoring.NewEngine(scoring.Config{
		Logger:         log,
		History:        hist,
		Primary:        primary,
		Fallback:       scoring.NewRuleEvaluator(*targetsFlag),
		PrimaryTimeout: *primaryTimeoutFlag,
	})
	if err != nil {
		return err
	}

	var units superfluid.UnitWriter
	if *distributorURLFlag != "" {
		units = superfluid.NewDistributorClient(*distributorURLFlag, *poolIDFlag, log)
	} else {
		log.Warn("distributor URL not set, unit updates will not be submitted")
	}

	streams, err := handlers.NewStreamRegistry(ctx, handlers.StreamRegistryConfig{
		Logger:          log,
		Fetcher:         superfluid.NewSubgraphClient(*subgraphURLFlag, log),
		PoolID:          *poolIDFlag,
		RefreshInterval: *refreshIntervalFlag,
		RedrawInterval:  *redrawIntervalFlag,
	})
	if err != nil {
		return err
	}

	h, err := handlers.New(handlers.Config{
		Logger:   log,
		Engine:   engine,
		Store:    db,
		Units:    units,
		Notifier: notify.NewSlackNotifier(log, os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_ALERT_CHANNEL")),
		Streams:  streams,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		Handlers:        h,
		ShutdownTimeout: *shutdownTimeoutFlag,
		Ready: func(ctx context.Context) bool {
			if db == nil {
				return true
			}
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			defer pingCancel()
			_, _, err := db.GetAuthorTotals(pingCtx, "readyz-probe")
			return err == nil
		},
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	log.Info("flowdrop api started", "version", version, "pool", *poolIDFlag)
	return g.Wait()
}
