package main

import (
	"ObSync/internal/aggregator"
	"ObSync/internal/chain"
	"ObSync/internal/crypto"
	"ObSync/internal/ingress"
	"ObSync/internal/observability"
	"ObSync/internal/store"
	"ObSync/internal/worker"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Storage
	DataDir string

	// NATS chain feed
	NATSURL string

	// Aggregator
	AggregatorURL string

	// Sync
	StartBlock  uint64
	Validator   bool
	LeaseBlocks uint64

	// Keystore: comma-separated hex seeds
	ValidatorSeeds string

	// HTTP
	MetricsAddr string
	HealthAddr  string
}

func DefaultConfig() Config {
	return Config{
		DataDir:        envOrDefault("OBSYNC_DATA_DIR", "data"),
		NATSURL:        envOrDefault("OBSYNC_NATS_URL", "nats://localhost:4222"),
		AggregatorURL:  envOrDefault("OBSYNC_AGGREGATOR_URL", "http://localhost:8090"),
		StartBlock:     envUintOrDefault("OBSYNC_START_BLOCK", 0),
		Validator:      envOrDefault("OBSYNC_VALIDATOR", "false") == "true",
		LeaseBlocks:    envUintOrDefault("OBSYNC_LEASE_BLOCKS", 3),
		ValidatorSeeds: os.Getenv("OBSYNC_VALIDATOR_SEEDS"),
		MetricsAddr:    envOrDefault("OBSYNC_METRICS_ADDR", ":9091"),
		HealthAddr:     envOrDefault("OBSYNC_HEALTH_ADDR", ":8080"),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("ObSync starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Storage ---
	db, err := store.OpenLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("open store")
	}
	defer db.Close()
	log.Info().Str("dir", cfg.DataDir).Msg("store opened")

	// --- Keystore ---
	keys, err := loadKeys(cfg.ValidatorSeeds)
	if err != nil {
		log.Fatal().Err(err).Msg("load validator keys")
	}
	if cfg.Validator && len(keys) == 0 {
		log.Fatal().Msg("validator mode requires OBSYNC_VALIDATOR_SEEDS")
	}
	for _, key := range keys {
		log.Info().Str("public_key", key.Public().String()).Msg("loaded signing key")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- NATS chain feed ---
	nc, js, err := ingress.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Str("url", cfg.NATSURL).Msg("NATS connected")

	if err := ingress.EnsureStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure chain feed stream")
	}

	blockChan := make(chan uint64, 1)
	subscriber := ingress.NewSubscriber(js, db, blockChan, metrics)
	if err := subscriber.Subscribe(ctx); err != nil {
		log.Fatal().Err(err).Msg("subscribe chain feed")
	}

	// --- Worker ---
	batches := aggregator.NewClient(cfg.AggregatorURL, log)
	reader := chain.NewReader(db)
	syncWorker := worker.New(worker.Config{
		StartBlock:  cfg.StartBlock,
		Validator:   cfg.Validator,
		LeaseBlocks: cfg.LeaseBlocks,
	}, db, batches, reader, keys, uuid.NewString(), log, metrics)

	errChan := make(chan error, 4)

	// 1. Sync cycle loop: one cycle per finalized block signal.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case blockNum := <-blockChan:
				ran, err := syncWorker.Run(blockNum)
				if err != nil {
					metrics.CycleErrors.WithLabelValues("run").Inc()
					log.Error().Err(err).Uint64("block", blockNum).Msg("sync cycle failed")
					continue
				}
				if !ran {
					log.Debug().Uint64("block", blockNum).Msg("cycle skipped")
				}
			}
		}
	}()

	// 2. Prometheus metrics server.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			srv.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 3. Health server.
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
		srv := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			srv.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.HealthAddr).Msg("health server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("health server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Bool("validator", cfg.Validator).
		Uint64("start_block", cfg.StartBlock).
		Msg("ObSync ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	subscriber.Stop()
	log.Info().Msg("ObSync shutdown complete")
}

func loadKeys(seeds string) ([]crypto.PrivateKey, error) {
	if seeds == "" {
		return nil, nil
	}
	var keys []crypto.PrivateKey
	for _, seed := range strings.Split(seeds, ",") {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		key, err := crypto.PrivateKeyFromSeedHex(seed)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envUintOrDefault(key string, defaultVal uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i uint64
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
