// Command msgbidd runs the sealed-bid message-auction broker.
//
// Clients register for an opaque token and an initial balance, then POST
// paid messages with a bid. Bids accumulate into rounds; each round's
// highest bidder wins and pays the second-highest bid, losers are
// subsidized up to the balance cap, and the winning message is appended to
// a replayable log.
//
// # Configuration
//
// Auction parameters come from the environment (a .env file is honored):
// N, TIMEOUT (ms), ACCUMULATE_BAL, START_BAL, MAX_BAL and ADMIN_TOKEN.
// Listen addresses and the storage backend are flags.
//
// # Usage
//
//	ADMIN_TOKEN=secret go run ./cmd/msgbidd --addr :8080 --db msgbid.db
//	ADMIN_TOKEN=secret go run ./cmd/msgbidd --postgres-dsn "host=... dbname=..."
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/whitead/msgbid/api/httpserver"
	"github.com/whitead/msgbid/auction"
	"github.com/whitead/msgbid/common"
	"github.com/whitead/msgbid/feed"
	"github.com/whitead/msgbid/registry"
	"github.com/whitead/msgbid/store"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address (empty disables)")
		enablePprof = flag.Bool("pprof", false, "Enable the pprof API under /debug")
		dbPath      = flag.String("db", "msgbid.db", "bbolt database file (empty for in-memory)")
		postgresDSN = flag.String("postgres-dsn", "", "PostgreSQL DSN (overrides --db)")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	// A missing .env is fine; the environment may be set directly.
	godotenv.Load()

	level := slog.LevelInfo
	if *logDebug {
		level = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(handler).With("service", "msgbidd", "version", common.Version)

	cfg, err := auction.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN is not set; admin endpoints are disabled")
	}

	st, err := openStore(*postgresDSN, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := auction.NewEngine(cfg, st, log)

	hub := feed.NewHub(log)
	go hub.Run(ctx)
	engine.SetAcceptedCallback(func(msg *auction.AcceptedMessage) {
		hub.Broadcast(msg)
	})

	reg := registry.New(st, cfg.StartBal, log)
	handlerCfg := &httpserver.HTTPServerConfig{
		ListenAddr:               *addr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              15 * time.Second,
		// Parked submissions hold their responses for up to the auction
		// timeout before settlement resolves them.
		WriteTimeout: cfg.Timeout + 30*time.Second,
	}

	broker := httpserver.NewBrokerHandler(engine, reg, hub, cfg.AdminToken, log)
	srv, err := httpserver.New(handlerCfg, broker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}

	log.Info("broker starting",
		"batchSize", cfg.BatchSize,
		"timeout", cfg.Timeout,
		"startBal", cfg.StartBal,
		"maxBal", cfg.MaxBal,
	)
	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	srv.Shutdown()
}

// openStore picks the backend: Postgres when a DSN is given, a bbolt file
// when a path is given, otherwise in-memory.
func openStore(postgresDSN, dbPath string) (store.Store, error) {
	switch {
	case postgresDSN != "":
		return store.NewPostgresStore(postgresDSN)
	case dbPath != "":
		return store.NewBoltStore(dbPath)
	default:
		return store.NewMemStore(), nil
	}
}
