// Command rollup-coordinator wires the sequencer, state store, prover and
// settlement worker into a running process: it loads configuration, dials
// layer-1, starts every subsystem goroutine, serves the ingress and metrics
// HTTP surfaces, and drains on SIGINT/SIGTERM within a bounded window.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/rollup-coordinator/internal/chain"
	"github.com/certen/rollup-coordinator/internal/config"
	"github.com/certen/rollup-coordinator/internal/loader"
	"github.com/certen/rollup-coordinator/internal/metrics"
	"github.com/certen/rollup-coordinator/internal/prover"
	"github.com/certen/rollup-coordinator/internal/retrytick"
	"github.com/certen/rollup-coordinator/internal/rollup"
	"github.com/certen/rollup-coordinator/internal/sequencer"
	"github.com/certen/rollup-coordinator/internal/server"
	"github.com/certen/rollup-coordinator/internal/settlement"
	"github.com/certen/rollup-coordinator/internal/statestore"
)

func main() {
	log.SetFlags(log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	chainClient, err := chain.NewEthClient(cfg.Layer1URL, cfg.Layer1ChainID)
	if err != nil {
		log.Fatalf("connecting to layer-1: %v", err)
	}

	keypair1, err := chain.LoadKeypairFromEnv(cfg.Keypair1Env)
	if err != nil {
		log.Fatalf("loading settlement keypair: %v", err)
	}

	accountLoader, err := loader.New(chainClient)
	if err != nil {
		log.Fatalf("constructing account loader: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	settlementCh := make(chan rollup.SettlementJob, cfg.SettlementBuf)
	ingressCh := make(chan rollup.Transaction, cfg.IngressBuf)

	store := statestore.New(statestore.Config{
		Chain:      chainClient,
		Settlement: settlementCh,
		Metrics:    m,
	})

	proverDriver := prover.New(prover.Config{
		ScriptPath: cfg.ProverScript,
		DataDir:    cfg.DataDir,
		BatchSize:  cfg.BatchSize,
	})

	seq := sequencer.New(sequencer.Config{
		Store:     store,
		Loader:    accountLoader,
		Prover:    proverDriver,
		BatchSize: cfg.BatchSize,
		Settle:    settlementCh,
		Metrics:   m,
	})

	settleWorker := settlement.New(settlementCh, settlement.Config{
		Store:            store,
		Chain:            chainClient,
		Keypair:          keypair1,
		VerifyingKeyPath: filepath.Join(cfg.DataDir, "build", "keys", "verification_key_batch.json"),
		Metrics:          m,
	})

	retryTicker := retrytick.New(retrytick.Config{
		Interval: cfg.RetryInterval,
		Store:    store,
	})

	handlers := server.New(server.Config{
		Ingress: ingressCh,
		Store:   store,
		DevMode: cfg.LogLevel == "debug",
	})

	ingressServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handlers.Mux(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		store.Run(ctx)
	}()

	seq.Start(ctx, ingressCh)
	settleWorker.Start(ctx)
	retryTicker.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("ingress server listening on %s", cfg.ListenAddr)
		if err := ingressServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ingress server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("metrics server listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutdown signal received, draining")

	time.AfterFunc(cfg.ShutdownWindow, func() {
		log.Printf("shutdown window elapsed, forcing exit")
		os.Exit(1)
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownWindow)
	_ = ingressServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	shutdownCancel()

	seq.Stop()
	settleWorker.Stop()
	retryTicker.Stop()
	cancel()

	wg.Wait()
	log.Printf("rollup coordinator stopped")
}
