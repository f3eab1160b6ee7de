// Command tm_server runs the transaction manager service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/api/tmhttp"
	"github.com/JoDio-zd/DistributeDataBase/config"
	"github.com/JoDio-zd/DistributeDataBase/core/txn"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
	"github.com/JoDio-zd/DistributeDataBase/pkg/client"
	"github.com/JoDio-zd/DistributeDataBase/pkg/logger"
)

var (
	configPath = flag.String("config", "tm.yaml", "Path to the TM config file")
	listenAddr = flag.String("listen", "", "Override the configured listen address")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	var cfg config.TM
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Fatalf("CRITICAL: load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("CRITICAL: invalid config: %v", err)
	}

	zlogger := logger.New("tm", cfg.Log)
	defer zlogger.Sync()

	metrics := telemetry.New("tm")
	participants := client.NewParticipants(client.Options{Timeout: cfg.PrepareTimeout.Std()})
	manager := txn.NewManager(participants, txn.Config{
		PrepareTimeout:   cfg.PrepareTimeout.Std(),
		CommitTimeout:    cfg.CommitTimeout.Std(),
		RetryLimit:       cfg.RetryLimit,
		RetryBackoff:     cfg.RetryBackoff.Std(),
		OutcomeCacheSize: cfg.OutcomeCacheSize,
	}, zlogger, metrics)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: tmhttp.NewServer(manager, zlogger, metrics, nil),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlogger.Info("transaction manager listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlogger.Fatal("http server", zap.Error(err))
		}
	}()

	<-stop
	zlogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
